// Package httpmw contains the HTTP middleware shared by the gateway, the
// bridge, and the control plane: request id assignment, structured request
// logging, panic recovery, CORS, and per-request timeouts.
package httpmw
