// Package client is the Go SDK for the chainledger ledger server and the
// archive nodes its descriptors point at.
//
// # Reading the chain
//
// Blocks follows archive descriptors, so callers see one ascending run of
// blocks no matter how much of it has moved into shards:
//
//	c := client.MustNew("http://localhost:8080")
//	blocks, err := c.Blocks(ctx, 0, 1000)
//
// Archived blocks never change and are cached per range (see
// WithArchiveCacheTTL). Live blocks are always fetched fresh.
//
// # Verifying the tip
//
// The tip certificate is a signed root over the last block index and hash:
//
//	cert, err := c.TipCertificate(ctx)
//	tip, err := certification.Verify(cert, pub, "ledger-id")
//
// tip.Hash equals the hash of block tip.Index.
package client
