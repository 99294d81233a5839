package council

import (
	"context"

	"golang.org/x/sync/errgroup"

	"conclave/internal/logging"
	"conclave/internal/perception"
)

// StancePlaceholder substitutes the stance of a member whose model call failed.
const StancePlaceholder = "..."

// Collector fans the query out to every council member concurrently and
// gathers their independent positions.
type Collector struct {
	inv perception.Invoker
}

// NewCollector creates a stance collector over the gateway.
func NewCollector(inv perception.Invoker) *Collector {
	return &Collector{inv: inv}
}

// Gather launches one gateway call per member and waits for all of them to
// settle (join-all; no early exit, no cancellation of slower members).
// Per-member failure is isolated: a failed call yields a placeholder stance
// rather than aborting the batch. Output order matches the input member
// order regardless of completion order, and the result always has exactly
// len(members) entries.
func (c *Collector) Gather(ctx context.Context, query string, members []Member) []Stance {
	log := logging.Get(logging.CategoryCouncil)
	stances := make([]Stance, len(members))

	// Tasks never return an error: errgroup here is only a join, never a
	// cancellation fan-in.
	var g errgroup.Group
	for i, m := range members {
		g.Go(func() error {
			content, err := c.inv.Complete(ctx, m.ModelID, []perception.Message{
				perception.UserMessage(stancePrompt(m, query)),
			})
			if err != nil {
				log.Warn("%s (%s) failed to speak: %v", m.Name, m.ModelID, err)
				content = StancePlaceholder
			}
			stances[i] = Stance{MemberID: m.ID, MemberName: m.Name, Content: content}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("gathered %d stances", len(stances))
	return stances
}
