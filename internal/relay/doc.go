// Package relay bridges internal event producers and the external relay
// process that holds long-lived client connections. The relay calls back on
// connect and disconnect with a subscriber token; the Registry keeps the
// stream identifier to token mapping and pushes events through a Publisher.
// Hub is an in-process Publisher for deployments without an external relay.
package relay
