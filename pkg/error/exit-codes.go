/*
Copyright © 2022 - 2024 SUSE LLC

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

// provides a custom error interface and exit codes to use on the resmgr daemon
package error

//
// Provided exit codes for the resmgr daemon binary.
//
// To make it easy to generate them you have to respect the structure:
//
// comment that explains the error
// const NamedConstant = ERRORCODE

// Error reading the daemon configuration
const ReadingConfig = 10

// Error opening the AccessBroker transport (TPM device or simulator socket)
// or the client-facing Unix domain socket
const OpenAccessBroker = 11

// Invariant violation detected by the core (vhandle rollover, bad session
// state on connection close). No code path exits with this value: the
// core's own aborts go through Logger.Fatalf, which exits with status 1
const InvariantViolation = 12

// Error opening the optional audit database
const OpenAuditDB = 13

// Unknown error
const Unknown int = 255
