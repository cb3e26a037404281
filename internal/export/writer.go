// Package export serializes the top scored tokens into the NotArb pools
// file. The file is replaced atomically so the consuming bot never reads
// a torn document.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/domain"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/telemetry"
)

// TokenRecord is one exported token.
type TokenRecord struct {
	MintAddress string   `json:"mint_address"`
	Symbol      string   `json:"symbol"`
	Name        string   `json:"name"`
	Score       float64  `json:"score"`
	Pools       []string `json:"pools"`
}

// Metadata heads the export document.
type Metadata struct {
	GeneratedAt       time.Time `json:"generated_at"`
	Generator         string    `json:"generator"`
	MinScoreThreshold float64   `json:"min_score_threshold"`
	TotalTokens       int       `json:"total_tokens"`
}

// Document is the full NotArb pools file.
type Document struct {
	Metadata Metadata      `json:"metadata"`
	Tokens   []TokenRecord `json:"tokens"`
}

// Selection are the filter knobs applied to the candidate list.
type Selection struct {
	MinScore   float64 // smoothed-score floor
	MaxSpamPct float64 // spam ceiling; tokens without spam metrics pass
	TopN       int
	Generator  string
}

// BuildDocument filters candidates (already ordered by smoothed score
// desc) down to the exportable set and shapes the document. Tokens that
// were never scored are skipped.
func BuildDocument(candidates []domain.ScoredToken, sel Selection, now time.Time) Document {
	if sel.TopN <= 0 {
		sel.TopN = 3
	}
	records := make([]TokenRecord, 0, sel.TopN)
	for _, st := range candidates {
		if len(records) == sel.TopN {
			break
		}
		snap := st.Latest
		if snap == nil || snap.SmoothedScore < sel.MinScore {
			continue
		}
		if snap.SpamMetrics != nil && snap.SpamMetrics.SpamPercentage > sel.MaxSpamPct {
			continue
		}
		pools := make([]string, 0, len(snap.Metrics.Pools))
		for _, p := range snap.Metrics.Pools {
			pools = append(pools, p.Address)
		}
		records = append(records, TokenRecord{
			MintAddress: st.Token.MintAddress,
			Symbol:      st.Token.Symbol,
			Name:        st.Token.Name,
			Score:       snap.SmoothedScore,
			Pools:       pools,
		})
	}
	return Document{
		Metadata: Metadata{
			GeneratedAt:       now.UTC(),
			Generator:         sel.Generator,
			MinScoreThreshold: sel.MinScore,
			TotalTokens:       len(records),
		},
		Tokens: records,
	}
}

// Writer persists export documents to a fixed path.
type Writer struct {
	path string
	log  zerolog.Logger
}

func NewWriter(path string, log zerolog.Logger) *Writer {
	return &Writer{
		path: path,
		log:  log.With().Str("component", "export").Str("path", path).Logger(),
	}
}

// Write replaces the export file with doc. The document is written to a
// temp file in the target directory, fsynced, then renamed over the
// destination so readers see either the old or the new file, never a
// partial one.
func (w *Writer) Write(doc Document) error {
	if err := w.write(doc); err != nil {
		telemetry.ExportWrites.WithLabelValues("error").Inc()
		w.log.Error().Err(err).Msg("export write failed")
		return err
	}
	telemetry.ExportWrites.WithLabelValues("ok").Inc()
	telemetry.ExportedTokens.Set(float64(len(doc.Tokens)))
	return nil
}

func (w *Writer) write(doc Document) error {
	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, ".notarb-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-ops after a successful rename.
		tmp.Close()
		os.Remove(tmpName)
	}()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		return fmt.Errorf("rename export into place: %w", err)
	}
	return nil
}

// Path returns the destination path.
func (w *Writer) Path() string { return w.path }
