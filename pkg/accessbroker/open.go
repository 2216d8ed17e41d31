/*
Copyright © 2022 - 2025 SUSE LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package accessbroker

import (
	"fmt"

	"github.com/google/go-tpm/tpm2/transport"
	"github.com/google/go-tpm/tpmutil"
	"github.com/google/go-tpm/tpmutil/mssim"
)

// OpenDevice opens a character-device TPM (normally the kernel's
// resource-managed node, /dev/tpmrm0) as a go-tpm transport.
func OpenDevice(path string) (transport.TPMCloser, error) {
	rwc, err := tpmutil.OpenTPM(path)
	if err != nil {
		return nil, fmt.Errorf("accessbroker: opening %s: %w", path, err)
	}
	return transport.FromReadWriteCloser(rwc), nil
}

// OpenSimulator dials a Microsoft TPM simulator over its two TCP sockets,
// for running the daemon against a software TPM instead of a device.
func OpenSimulator(commandAddr, platformAddr string) (transport.TPMCloser, error) {
	conn, err := mssim.Open(mssim.Config{
		CommandAddress:  commandAddr,
		PlatformAddress: platformAddr,
	})
	if err != nil {
		return nil, fmt.Errorf("accessbroker: opening simulator: %w", err)
	}
	return transport.FromReadWriteCloser(conn), nil
}
