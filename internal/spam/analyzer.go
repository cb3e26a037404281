// Package spam classifies recent on-chain activity for a mint into an
// instruction mix and a spam percentage. Wash-trading bots pad their
// transactions with compute-budget instructions, so a high share of
// those marks manufactured volume.
package spam

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/domain"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/telemetry"
)

// rpcAPI is the slice of the Solana RPC client the analyzer uses.
// *rpc.Client satisfies it; tests substitute a fake.
type rpcAPI interface {
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetParsedTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetParsedTransactionOpts) (*rpc.GetParsedTransactionResult, error)
}

// Analyzer fetches recent transactions for a mint and counts instruction
// categories.
type Analyzer struct {
	rpc      rpcAPI
	sigLimit int
	timeout  time.Duration
	log      zerolog.Logger
}

// New builds an analyzer against a Solana RPC endpoint.
func New(endpoint string, sigLimit int, timeout time.Duration, log zerolog.Logger) *Analyzer {
	return NewWithClient(rpc.New(endpoint), sigLimit, timeout, log)
}

// NewWithClient builds an analyzer over an existing RPC client.
func NewWithClient(client rpcAPI, sigLimit int, timeout time.Duration, log zerolog.Logger) *Analyzer {
	if sigLimit <= 0 {
		sigLimit = 20
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Analyzer{
		rpc:      client,
		sigLimit: sigLimit,
		timeout:  timeout,
		log:      log.With().Str("component", "spam_analyzer").Logger(),
	}
}

// RiskLevel maps a spam percentage onto its band.
func RiskLevel(spamPct float64) string {
	switch {
	case spamPct < 25:
		return domain.RiskClean
	case spamPct < 50:
		return domain.RiskLow
	case spamPct < 70:
		return domain.RiskMedium
	default:
		return domain.RiskHigh
	}
}

// Analyze inspects the most recent transactions touching mint.
// Transactions involving a whitelisted account are excluded entirely.
// Returns ErrRPCUnavailable when the RPC gives nothing to work with.
func (a *Analyzer) Analyze(ctx context.Context, mint string, whitelist map[string]struct{}) (*domain.SpamMetrics, error) {
	account, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		telemetry.SpamAnalyses.WithLabelValues("invalid_mint").Inc()
		return nil, fmt.Errorf("parse mint %s: %w", mint, err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	limit := a.sigLimit
	sigs, err := a.rpc.GetSignaturesForAddressWithOpts(ctx, account, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		telemetry.SpamAnalyses.WithLabelValues("rpc_error").Inc()
		a.log.Warn().Err(err).Str("mint", mint).Msg("signature fetch failed")
		return nil, fmt.Errorf("signatures for %s: %w", mint, domain.ErrRPCUnavailable)
	}

	metrics := &domain.SpamMetrics{AnalysisTime: time.Now().UTC()}
	fetchFailures := 0
	maxVersion := uint64(0)

	for _, sig := range sigs {
		if sig == nil || sig.Err != nil {
			continue // failed transactions carry no usable mix
		}
		tx, err := a.rpc.GetParsedTransaction(ctx, sig.Signature, &rpc.GetParsedTransactionOpts{
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		if err != nil {
			if ctx.Err() != nil {
				telemetry.SpamAnalyses.WithLabelValues("rpc_error").Inc()
				return nil, fmt.Errorf("transaction fetch for %s: %w", mint, domain.ErrRPCUnavailable)
			}
			fetchFailures++
			continue
		}
		if tx == nil || tx.Transaction == nil {
			continue
		}

		msg := tx.Transaction.Message
		if touchesWhitelist(msg.AccountKeys, whitelist) {
			metrics.WhitelistedTxCount++
			continue
		}
		for _, ins := range msg.Instructions {
			if ins == nil {
				continue
			}
			classify(ins.ProgramId, metrics)
		}
		metrics.AnalyzedTxCount++
	}

	if len(sigs) > 0 && metrics.AnalyzedTxCount == 0 && metrics.WhitelistedTxCount == 0 && fetchFailures > 0 {
		telemetry.SpamAnalyses.WithLabelValues("rpc_error").Inc()
		return nil, fmt.Errorf("no transactions readable for %s: %w", mint, domain.ErrRPCUnavailable)
	}

	if metrics.TotalInstructions > 0 {
		metrics.SpamPercentage = 100 * float64(metrics.ComputeBudgetCount) / float64(metrics.TotalInstructions)
	}
	metrics.RiskLevel = RiskLevel(metrics.SpamPercentage)

	telemetry.SpamAnalyses.WithLabelValues("ok").Inc()
	a.log.Debug().
		Str("mint", mint).
		Float64("spam_percentage", metrics.SpamPercentage).
		Str("risk_level", metrics.RiskLevel).
		Int("analyzed", metrics.AnalyzedTxCount).
		Int("whitelisted", metrics.WhitelistedTxCount).
		Int("fetch_failures", fetchFailures).
		Msg("spam analysis complete")
	return metrics, nil
}

func touchesWhitelist(keys []rpc.ParsedMessageAccount, whitelist map[string]struct{}) bool {
	if len(whitelist) == 0 {
		return false
	}
	for _, k := range keys {
		if _, ok := whitelist[k.PublicKey.String()]; ok {
			return true
		}
	}
	return false
}

func classify(program solana.PublicKey, m *domain.SpamMetrics) {
	m.TotalInstructions++
	switch program {
	case computebudget.ProgramID:
		m.ComputeBudgetCount++
	case solana.TokenProgramID, solana.Token2022ProgramID:
		m.TransferCount++
	case solana.SystemProgramID:
		m.SystemCount++
	default:
		m.OtherCount++
	}
}
