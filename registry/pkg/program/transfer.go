package program

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/metrics"
)

// TokenTransfer tells the host's token ledger to move Amount of Mint. The
// host executes it in the same transaction that persists the state change.
type TokenTransfer struct {
	Mint      solana.PublicKey `json:"mint"`
	From      solana.PublicKey `json:"from"`
	To        solana.PublicKey `json:"to"`
	Authority solana.PublicKey `json:"authority"`
	Amount    uint64           `json:"amount"`
}

// intoVault moves tokens from owner's associated token account into the
// registrar's escrow.
func (p *Program) intoVault(registrar, owner, mint solana.PublicKey, amount uint64) (TokenTransfer, error) {
	from, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return TokenTransfer{}, fmt.Errorf("failed to find source token account: %w", err)
	}
	vault, err := p.addr.Vault(registrar, mint)
	if err != nil {
		return TokenTransfer{}, err
	}
	metrics.TokenTransfersTotal.WithLabelValues("in").Inc()
	return TokenTransfer{Mint: mint, From: from, To: vault, Authority: owner, Amount: amount}, nil
}

// outOfVault moves tokens from the registrar's escrow to destination, signed
// by the registrar.
func (p *Program) outOfVault(registrar, mint, destination solana.PublicKey, amount uint64) (TokenTransfer, error) {
	vault, err := p.addr.Vault(registrar, mint)
	if err != nil {
		return TokenTransfer{}, err
	}
	metrics.TokenTransfersTotal.WithLabelValues("out").Inc()
	return TokenTransfer{Mint: mint, From: vault, To: destination, Authority: registrar, Amount: amount}, nil
}
