// Package web3 houses the chain-facing contracts of the siphon: signing
// credentials, transaction handles and receipts, the read/write surface the
// automation engine consumes, and the YAML chain definitions used to locate
// RPC endpoints. Concrete implementations live in sub-packages such as
// livepeer.
package web3
