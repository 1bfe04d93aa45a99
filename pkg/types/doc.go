// Package types defines the configuration model, cache states, edit
// operations, error taxonomy, and the RemoteGateway interface shared by
// the ledgercache storage and reconciliation packages.
package types
