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

// Package quota enforces the per-connection caps on live transient objects
// and live sessions described in spec.md §4.1. Defaults mirror
// tabrmd's TABRMD_TRANSIENT_MAX / TABRMD_SESSION_MAX build-time constants.
package quota

const (
	// DefaultTransientCap is the default per-connection live transient cap.
	DefaultTransientCap = 27
	// DefaultSessionCap is the default per-connection live session cap.
	DefaultSessionCap = 10
)

// TSS2_RC values for the two quota-exceeded errors spec.md §7 names.
// These follow the tpm2-abrmd vendor-range RESMGR_RC_* response codes:
// TPM_RC_VENDOR_ERR_TSS2 | layer | value.
const (
	ResponseCodeObjectMemory  uint32 = 0x0a050001
	ResponseCodeSessionMemory uint32 = 0x0a050002
)

// Config holds the two per-connection quotas, overridable by the daemon's
// configuration layer (see pkg/config).
type Config struct {
	TransientCap int
	SessionCap   int
}

// NewDefault returns a Config with tabrmd's own defaults.
func NewDefault() Config {
	return Config{TransientCap: DefaultTransientCap, SessionCap: DefaultSessionCap}
}
