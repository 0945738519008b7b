// Package identity holds the principal model shared by the ledger and its
// archive shards, and the RSA signing key the ledger certifies its tip with.
package identity
