// Package pin rewrites Dockerfile FROM instructions to reference base
// images by digest, so that builds keep using the exact image that was
// current when the file was locked.
package pin

import (
	"context"
	"strings"

	"github.com/distribution/reference"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/dlock/dlock/internal/output"
	"github.com/dlock/dlock/pkg/dockerfile"
	"github.com/dlock/dlock/pkg/registry"
)

const defaultConcurrency = 4

// Options control a pin run.
type Options struct {
	// Upgrade re-resolves images that already carry a digest and moves
	// them to whatever the registry currently serves for their tag.
	Upgrade bool

	// Concurrency bounds the number of in-flight registry requests.
	Concurrency int
}

// Action describes what happened to one FROM instruction.
type Action string

const (
	ActionPinned   Action = "pinned"
	ActionUpgraded Action = "upgraded"
	ActionUpToDate Action = "up to date"
	ActionOutdated Action = "outdated"
	ActionUnpinned Action = "unpinned"
)

// Change records the outcome for one FROM instruction.
type Change struct {
	Line   int    `json:"line"`
	Before string `json:"before"`
	After  string `json:"after,omitempty"`
	Action Action `json:"action"`
}

// Report summarizes a pin or check run.
type Report struct {
	RunID   string   `json:"run_id"`
	Name    string   `json:"name,omitempty"`
	Changes []Change `json:"changes,omitempty"`
}

// Modified reports whether the run changed (or, for checks, would
// change) any FROM instruction.
func (r *Report) Modified() bool {
	for _, c := range r.Changes {
		switch c.Action {
		case ActionPinned, ActionUpgraded, ActionOutdated, ActionUnpinned:
			return true
		}
	}
	return false
}

// Pinner resolves and rewrites base image references in a document.
type Pinner struct {
	resolver registry.Resolver
	log      *output.Log
}

// New creates a pinner. A nil log discards progress messages.
func New(resolver registry.Resolver, log *output.Log) *Pinner {
	if log == nil {
		log = output.Discard()
	}
	return &Pinner{resolver: resolver, log: log}
}

// base is one FROM instruction selected for resolution.
type base struct {
	index      int // position in doc.Nodes
	line       int
	from       dockerfile.FromInstruction
	repository string // familiar image name, possibly with a registry host
	tag        string
	digest     string // current digest, empty when unpinned
}

// ref returns the name the base resolves by, for messages.
func (b base) ref() string {
	if b.tag == "" {
		return b.repository
	}
	return b.repository + ":" + b.tag
}

// pinned returns the base image reference locked to the given digest.
func (b base) pinned(digest string) string {
	return b.ref() + "@" + digest
}

// Pin resolves unpinned FROM instructions and rewrites them in place to
// reference their image by digest. With Options.Upgrade, already pinned
// instructions are re-resolved and moved to the current digest for their
// tag. The document is modified only on success.
func (p *Pinner) Pin(ctx context.Context, doc *dockerfile.Document, opts Options) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Name: doc.Name}
	p.log.Print(2, "%s: starting pin run %s", docName(doc), report.RunID)

	bases, err := p.collect(doc)
	if err != nil {
		return nil, err
	}

	resolve := func(b base) bool {
		return b.digest == "" || opts.Upgrade
	}
	resolved, err := p.resolveAll(ctx, bases, opts.Concurrency, resolve)
	if err != nil {
		return nil, err
	}

	for i, b := range bases {
		switch {
		case b.digest == "":
			after := b.pinned(resolved[i])
			doc.Nodes[b.index].Instruction = b.from.WithBase(after)
			report.Changes = append(report.Changes, Change{
				Line:   b.line,
				Before: b.from.Base,
				After:  after,
				Action: ActionPinned,
			})
			p.log.Print(1, "%s: line %d: pinned %s to %s", docName(doc), b.line, b.ref(), resolved[i])
		case opts.Upgrade && resolved[i] != b.digest:
			after := b.pinned(resolved[i])
			doc.Nodes[b.index].Instruction = b.from.WithBase(after)
			report.Changes = append(report.Changes, Change{
				Line:   b.line,
				Before: b.from.Base,
				After:  after,
				Action: ActionUpgraded,
			})
			p.log.Print(1, "%s: line %d: upgraded %s to %s", docName(doc), b.line, b.ref(), resolved[i])
		default:
			report.Changes = append(report.Changes, Change{
				Line:   b.line,
				Before: b.from.Base,
				Action: ActionUpToDate,
			})
			p.log.Print(2, "%s: line %d: %s already pinned", docName(doc), b.line, b.ref())
		}
	}
	return report, nil
}

// Check verifies the pins in a document without modifying it. Unpinned
// images and pins that no longer match the registry are reported.
func (p *Pinner) Check(ctx context.Context, doc *dockerfile.Document, opts Options) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Name: doc.Name}
	p.log.Print(2, "%s: starting check run %s", docName(doc), report.RunID)

	bases, err := p.collect(doc)
	if err != nil {
		return nil, err
	}

	resolve := func(b base) bool {
		return b.digest != ""
	}
	resolved, err := p.resolveAll(ctx, bases, opts.Concurrency, resolve)
	if err != nil {
		return nil, err
	}

	for i, b := range bases {
		switch {
		case b.digest == "":
			report.Changes = append(report.Changes, Change{
				Line:   b.line,
				Before: b.from.Base,
				Action: ActionUnpinned,
			})
			p.log.Print(0, "%s: line %d: %s is not pinned", docName(doc), b.line, b.ref())
		case resolved[i] != b.digest:
			report.Changes = append(report.Changes, Change{
				Line:   b.line,
				Before: b.from.Base,
				After:  b.pinned(resolved[i]),
				Action: ActionOutdated,
			})
			p.log.Print(0, "%s: line %d: %s is outdated", docName(doc), b.line, b.ref())
		default:
			report.Changes = append(report.Changes, Change{
				Line:   b.line,
				Before: b.from.Base,
				Action: ActionUpToDate,
			})
			p.log.Print(2, "%s: line %d: %s is up to date", docName(doc), b.line, b.ref())
		}
	}
	return report, nil
}

// Resolve returns the digest-pinned form of a single image reference.
func (p *Pinner) Resolve(ctx context.Context, image string) (string, error) {
	ref, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return "", errors.Wrapf(err, "invalid image reference %q", image)
	}
	b := base{repository: reference.FamiliarName(ref)}
	if tagged, ok := ref.(reference.Tagged); ok {
		b.tag = tagged.Tag()
	}
	digest, err := p.resolver.Resolve(ctx, b.repository, b.tag)
	if err != nil {
		return "", errors.Wrapf(err, "failed to resolve %s", b.ref())
	}
	return b.pinned(digest), nil
}

// collect walks the document and selects FROM instructions that name an
// image in a registry. The scratch pseudo-image and references to earlier
// build stages resolve to nothing and are skipped.
func (p *Pinner) collect(doc *dockerfile.Document) ([]base, error) {
	var bases []base
	stages := make(map[string]bool)

	for i, node := range doc.Nodes {
		from, ok := node.Instruction.(dockerfile.FromInstruction)
		if !ok {
			continue
		}
		switch {
		case strings.EqualFold(from.Base, "scratch"):
			p.log.Print(2, "%s: line %d: skipping scratch", docName(doc), node.Line)
		case stages[strings.ToLower(from.Base)]:
			p.log.Print(2, "%s: line %d: skipping stage %s", docName(doc), node.Line, from.Base)
		default:
			ref, err := reference.ParseNormalizedNamed(from.Base)
			if err != nil {
				return nil, errors.Wrapf(err, "%s: line %d: invalid image reference %q",
					docName(doc), node.Line, from.Base)
			}
			b := base{
				index:      i,
				line:       node.Line,
				from:       from,
				repository: reference.FamiliarName(ref),
			}
			if tagged, ok := ref.(reference.Tagged); ok {
				b.tag = tagged.Tag()
			}
			if digested, ok := ref.(reference.Digested); ok {
				b.digest = digested.Digest().String()
			}
			bases = append(bases, b)
		}

		// The stage name becomes visible to FROM instructions after
		// this one, not to itself.
		if from.Name != "" {
			stages[strings.ToLower(from.Name)] = true
		}
	}
	return bases, nil
}

// resolveAll resolves the selected bases concurrently. resolved[i] is
// filled only for bases where resolve(b) is true.
func (p *Pinner) resolveAll(ctx context.Context, bases []base, concurrency int, resolve func(base) bool) ([]string, error) {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	resolved := make([]string, len(bases))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, b := range bases {
		if !resolve(b) {
			continue
		}
		i, b := i, b
		g.Go(func() error {
			digest, err := p.resolver.Resolve(ctx, b.repository, b.tag)
			if err != nil {
				return errors.Wrapf(err, "failed to resolve %s", b.ref())
			}
			resolved[i] = digest
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resolved, nil
}

func docName(doc *dockerfile.Document) string {
	if doc.Name == "" {
		return "Dockerfile"
	}
	return doc.Name
}
