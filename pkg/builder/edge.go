package builder

import (
	"github.com/smilemakc/dagrun/pkg/models"
)

// EdgeBuilder builds edge definitions.
type EdgeBuilder struct {
	from string
	to   string
	kind models.EdgeKind
}

// EdgeOption configures an EdgeBuilder.
type EdgeOption func(*EdgeBuilder)

// NewEdge creates an edge builder. The kind defaults to success.
func NewEdge(from, to string, opts ...EdgeOption) *EdgeBuilder {
	eb := &EdgeBuilder{from: from, to: to}
	for _, opt := range opts {
		opt(eb)
	}
	return eb
}

// Build constructs the final Edge.
func (eb *EdgeBuilder) Build() (*models.Edge, error) {
	edge := &models.Edge{From: eb.from, To: eb.to, Kind: eb.kind}
	if err := edge.Validate(); err != nil {
		return nil, err
	}
	return edge, nil
}

// WithKind sets the edge kind.
func WithKind(kind models.EdgeKind) EdgeOption {
	return func(eb *EdgeBuilder) { eb.kind = kind }
}

// OnSuccess marks the edge traversable on source success.
func OnSuccess() EdgeOption { return WithKind(models.EdgeSuccess) }

// OnFailure marks the edge traversable on source failure.
func OnFailure() EdgeOption { return WithKind(models.EdgeFailure) }

// WhenTrue routes from a condition node's true branch.
func WhenTrue() EdgeOption { return WithKind(models.EdgeTrue) }

// WhenFalse routes from a condition node's false branch.
func WhenFalse() EdgeOption { return WithKind(models.EdgeFalse) }

// Always marks the edge unconditionally traversable.
func Always() EdgeOption { return WithKind(models.EdgeDefault) }
