package solana

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// MetadataProgramID is the Metaplex token metadata program.
var MetadataProgramID = solana.MustPublicKeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")

// ErrIssuerNotFound is returned when a mint has no readable metadata account.
var ErrIssuerNotFound = errors.New("issuer not found")

// metadata account layout: key (1 byte) followed by the update authority.
const (
	updateAuthorityOffset = 1
	updateAuthorityEnd    = updateAuthorityOffset + solana.PublicKeyLength
)

// IssuerResolver resolves a mint's issuer as its metadata update authority.
type IssuerResolver struct {
	rpc RPC
}

func NewIssuerResolver(client RPC) *IssuerResolver {
	return &IssuerResolver{rpc: client}
}

// MetadataAddress derives the metadata PDA for mint.
func MetadataAddress(mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{
			[]byte("metadata"),
			MetadataProgramID.Bytes(),
			mint.Bytes(),
		},
		MetadataProgramID,
	)
	return addr, err
}

// Issuer returns the base58 update authority of mint.
func (r *IssuerResolver) Issuer(ctx context.Context, mint string) (string, error) {
	pubkey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return "", fmt.Errorf("invalid mint %s: %w", mint, err)
	}
	pda, err := MetadataAddress(pubkey)
	if err != nil {
		return "", fmt.Errorf("failed to derive metadata address: %w", err)
	}

	info, err := r.rpc.GetAccountInfo(ctx, pda)
	if errors.Is(err, rpc.ErrNotFound) {
		return "", ErrIssuerNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getAccountInfo failed: %w", err)
	}
	if info == nil || info.Value == nil || info.Value.Data == nil {
		return "", ErrIssuerNotFound
	}

	data := info.Value.Data.GetBinary()
	if len(data) < updateAuthorityEnd {
		return "", fmt.Errorf("%w: metadata too short (%d bytes)", ErrIssuerNotFound, len(data))
	}
	return solana.PublicKeyFromBytes(data[updateAuthorityOffset:updateAuthorityEnd]).String(), nil
}
