// Package transforms provides the per-item transform function for each
// pipeline stage. Transforms are the only place the embedding/generation
// provider is called; they never touch stage status, which belongs to the
// executor.
package transforms

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"tessera/internal/blobstore"
	"tessera/internal/config"
	"tessera/internal/ingest"
	"tessera/internal/linker"
	"tessera/internal/logging"
	"tessera/internal/services"
	"tessera/internal/stage"
	"tessera/internal/state"
)

// Embedder turns text into vectors. Satisfied by ai.Client.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces text from prompts. Satisfied by ai.Client.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Deps carries everything the transforms need. The same Deps value serves a
// whole run; individual transforms pick what they use.
type Deps struct {
	Store     *state.Store
	Blobs     blobstore.Store
	Embedder  Embedder
	Generator Generator
	Linker    linker.Options
	Logger    *slog.Logger
}

// ForStage returns the transform for a stage. The cluster stage is resolved
// separately because its strategy is a run-level decision.
func ForStage(name string, strategy string, deps Deps) (stage.Transform, error) {
	switch name {
	case stage.Normalize:
		return Normalize(deps), nil
	case stage.Embed:
		return Embed(deps), nil
	case stage.Cluster:
		return Cluster(strategy, deps)
	case stage.LinkNeighbors:
		return LinkNeighbors(deps), nil
	case stage.Summarize:
		return Summarize(deps), nil
	case stage.Synthesize:
		return Synthesize(deps), nil
	case stage.Export:
		return Export(deps), nil
	case stage.Notify:
		return Notify(deps), nil
	default:
		return nil, fmt.Errorf("transforms: unknown stage %q", name)
	}
}

// Normalize cleans the raw highlight text: unicode NFC, control characters
// stripped, whitespace runs collapsed. The cleaned text is the input every
// later stage reads.
func Normalize(deps Deps) stage.Transform {
	return func(ctx context.Context, item *state.Item) (stage.Output, error) {
		raw, err := deps.Blobs.Get(ctx, blobstore.RawKey(item.ItemID))
		if err != nil {
			return stage.Output{}, services.Wrap(services.ErrTransient, stage.Normalize, "load raw payload", "raw payload unavailable", err)
		}
		var highlight ingest.Highlight
		if err := json.Unmarshal(raw, &highlight); err != nil {
			return stage.Output{}, services.Wrap(services.ErrValidation, stage.Normalize, "decode raw payload", "payload is not valid JSON", err)
		}
		cleaned := normalizeText(highlight.Text)
		if cleaned == "" {
			return stage.Output{}, services.Wrap(services.ErrValidation, stage.Normalize, "normalize", "highlight text empty after normalization", nil)
		}
		return stage.Output{
			ArtifactKey: blobstore.NormalizedKey(item.ItemID),
			Artifact:    []byte(cleaned),
		}, nil
	}
}

func normalizeText(text string) string {
	text = norm.NFC.String(text)
	var builder strings.Builder
	builder.Grow(len(text))
	for _, r := range text {
		if unicode.IsControl(r) && r != '\n' {
			continue
		}
		builder.WriteRune(r)
	}
	return strings.Join(strings.Fields(builder.String()), " ")
}

// Embed requests a vector for the normalized text and stores it. The vector
// lives in the state store, not object storage, because the linker reads
// the whole corpus at once.
func Embed(deps Deps) stage.Transform {
	return func(ctx context.Context, item *state.Item) (stage.Output, error) {
		text, err := normalizedText(ctx, deps, stage.Embed, item.ItemID)
		if err != nil {
			return stage.Output{}, err
		}
		vectors, err := deps.Embedder.Embed(ctx, []string{text})
		if err != nil {
			return stage.Output{}, services.Wrap(services.ErrTransient, stage.Embed, "embed", "provider call failed", err)
		}
		if err := deps.Store.PutEmbedding(ctx, item.ItemID, vectors[0]); err != nil {
			return stage.Output{}, fmt.Errorf("store embedding %s: %w", item.ItemID, err)
		}
		return stage.Output{}, nil
	}
}

const (
	clusterPromptA = "You label reading highlights with a short thematic topic. Respond with the topic only, a few words, no punctuation."
	clusterPromptB = "You place reading highlights into an outline of a larger argument. Respond with the outline heading this highlight belongs under, a few words, no punctuation."
)

// Cluster assigns the item a grouping label via the generation provider.
// The strategy is chosen once per run; there is no per-item override.
func Cluster(strategy string, deps Deps) (stage.Transform, error) {
	var prompt string
	switch strategy {
	case config.ClusterStrategyA:
		prompt = clusterPromptA
	case config.ClusterStrategyB:
		prompt = clusterPromptB
	default:
		return nil, fmt.Errorf("transforms: unknown cluster strategy %q", strategy)
	}
	return func(ctx context.Context, item *state.Item) (stage.Output, error) {
		text, err := normalizedText(ctx, deps, stage.Cluster, item.ItemID)
		if err != nil {
			return stage.Output{}, err
		}
		label, err := deps.Generator.Generate(ctx, prompt, text)
		if err != nil {
			return stage.Output{}, services.Wrap(services.ErrTransient, stage.Cluster, "generate label", "provider call failed", err)
		}
		artifact, err := json.Marshal(map[string]string{
			"item_id":  item.ItemID,
			"strategy": strategy,
			"label":    strings.TrimSpace(label),
		})
		if err != nil {
			return stage.Output{}, fmt.Errorf("encode cluster artifact %s: %w", item.ItemID, err)
		}
		return stage.Output{
			ArtifactKey: blobstore.StageArtifactKey(stage.Cluster, item.ItemID),
			Artifact:    artifact,
		}, nil
	}, nil
}

// LinkNeighbors scores the item against the full embedded corpus and
// replaces its neighbor list. The corpus index is built once per stage pass
// and shared by every item in the pass.
func LinkNeighbors(deps Deps) stage.Transform {
	var (
		once     sync.Once
		index    linker.Index
		indexErr error
	)
	build := func(ctx context.Context) {
		corpus, err := deps.Store.AllEmbeddings(ctx)
		if err != nil {
			indexErr = fmt.Errorf("load corpus embeddings: %w", err)
			return
		}
		index, indexErr = linker.NewBruteForce(corpus)
	}
	return func(ctx context.Context, item *state.Item) (stage.Output, error) {
		once.Do(func() { build(ctx) })
		if indexErr != nil {
			return stage.Output{}, indexErr
		}
		var links []state.NeighborLink
		if index.Len() >= 2 {
			links = index.Neighbors(item.ItemID, deps.Linker)
		}
		if err := deps.Store.ReplaceLinks(ctx, item.ItemID, links); err != nil {
			return stage.Output{}, fmt.Errorf("replace links %s: %w", item.ItemID, err)
		}
		return stage.Output{}, nil
	}
}

const summarizePrompt = "You condense a reading highlight to one or two sentences that preserve its core claim. Respond with the summary only."

// Summarize produces a short per-item summary artifact.
func Summarize(deps Deps) stage.Transform {
	return func(ctx context.Context, item *state.Item) (stage.Output, error) {
		text, err := normalizedText(ctx, deps, stage.Summarize, item.ItemID)
		if err != nil {
			return stage.Output{}, err
		}
		summary, err := deps.Generator.Generate(ctx, summarizePrompt, text)
		if err != nil {
			return stage.Output{}, services.Wrap(services.ErrTransient, stage.Summarize, "generate summary", "provider call failed", err)
		}
		return stage.Output{
			ArtifactKey: blobstore.StageArtifactKey(stage.Summarize, item.ItemID),
			Artifact:    []byte(strings.TrimSpace(summary)),
		}, nil
	}
}

const synthesizePrompt = "You connect a reading highlight to its most similar highlights. Given the highlight's summary and its neighbors' summaries, respond with one paragraph on how the ideas relate."

// Synthesize relates the item's summary to its neighbors' summaries.
func Synthesize(deps Deps) stage.Transform {
	return func(ctx context.Context, item *state.Item) (stage.Output, error) {
		summary, err := deps.Blobs.Get(ctx, blobstore.StageArtifactKey(stage.Summarize, item.ItemID))
		if err != nil {
			return stage.Output{}, services.Wrap(services.ErrTransient, stage.Synthesize, "load summary", "summary artifact unavailable", err)
		}
		links, err := deps.Store.GetLinks(ctx, item.ItemID)
		if err != nil {
			return stage.Output{}, fmt.Errorf("load links %s: %w", item.ItemID, err)
		}

		var prompt strings.Builder
		prompt.WriteString("Highlight summary:\n")
		prompt.Write(summary)
		prompt.WriteString("\n\nNeighbor summaries:\n")
		neighbors := 0
		for _, link := range links {
			neighborSummary, err := deps.Blobs.Get(ctx, blobstore.StageArtifactKey(stage.Summarize, link.NeighborID))
			if err != nil {
				// Neighbor may have been excluded upstream; synthesize with
				// whatever is available.
				continue
			}
			fmt.Fprintf(&prompt, "- (score %.3f) %s\n", link.Score, neighborSummary)
			neighbors++
		}
		if neighbors == 0 {
			prompt.WriteString("(none)\n")
		}

		synthesis, err := deps.Generator.Generate(ctx, synthesizePrompt, prompt.String())
		if err != nil {
			return stage.Output{}, services.Wrap(services.ErrTransient, stage.Synthesize, "generate synthesis", "provider call failed", err)
		}
		return stage.Output{
			ArtifactKey: blobstore.StageArtifactKey(stage.Synthesize, item.ItemID),
			Artifact:    []byte(strings.TrimSpace(synthesis)),
		}, nil
	}
}

// Card is the exported knowledge card for one item.
type Card struct {
	ItemID    string               `json:"item_id"`
	Source    string               `json:"source,omitempty"`
	Text      string               `json:"text"`
	Summary   string               `json:"summary"`
	Synthesis string               `json:"synthesis"`
	Neighbors []state.NeighborLink `json:"neighbors"`
}

// Export assembles the knowledge card from the stage artifacts and the
// neighbor links.
func Export(deps Deps) stage.Transform {
	return func(ctx context.Context, item *state.Item) (stage.Output, error) {
		text, err := normalizedText(ctx, deps, stage.Export, item.ItemID)
		if err != nil {
			return stage.Output{}, err
		}
		summary, err := deps.Blobs.Get(ctx, blobstore.StageArtifactKey(stage.Summarize, item.ItemID))
		if err != nil {
			return stage.Output{}, services.Wrap(services.ErrTransient, stage.Export, "load summary", "summary artifact unavailable", err)
		}
		synthesis, err := deps.Blobs.Get(ctx, blobstore.StageArtifactKey(stage.Synthesize, item.ItemID))
		if err != nil {
			return stage.Output{}, services.Wrap(services.ErrTransient, stage.Export, "load synthesis", "synthesis artifact unavailable", err)
		}
		links, err := deps.Store.GetLinks(ctx, item.ItemID)
		if err != nil {
			return stage.Output{}, fmt.Errorf("load links %s: %w", item.ItemID, err)
		}
		if links == nil {
			links = []state.NeighborLink{}
		}

		card := Card{
			ItemID:    item.ItemID,
			Source:    item.Source,
			Text:      text,
			Summary:   string(summary),
			Synthesis: string(synthesis),
			Neighbors: links,
		}
		artifact, err := json.MarshalIndent(card, "", "  ")
		if err != nil {
			return stage.Output{}, fmt.Errorf("encode card %s: %w", item.ItemID, err)
		}
		return stage.Output{
			ArtifactKey: blobstore.CardKey(item.ItemID),
			Artifact:    artifact,
		}, nil
	}
}

// Notify is the terminal per-item stage. It has no external effect of its
// own; completing it is what records that the item reached the end of the
// pipeline exactly once. The run-level summary notification is sent by the
// orchestrator.
func Notify(deps Deps) stage.Transform {
	return func(ctx context.Context, item *state.Item) (stage.Output, error) {
		logger := logging.WithContext(ctx, deps.Logger)
		logger.Debug("item reached terminal stage", logging.String(logging.FieldEventType, "item_terminal"))
		return stage.Output{}, nil
	}
}

func normalizedText(ctx context.Context, deps Deps, stageName, itemID string) (string, error) {
	payload, err := deps.Blobs.Get(ctx, blobstore.NormalizedKey(itemID))
	if err != nil {
		return "", services.Wrap(services.ErrTransient, stageName, "load normalized content", "normalized content unavailable", err)
	}
	return string(payload), nil
}
