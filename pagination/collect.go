package pagination

import "context"

type StopReason string

const (
	StopEmpty      StopReason = "empty"
	StopStagnation StopReason = "stagnation"
	StopCap        StopReason = "cap"
	StopExhausted  StopReason = "exhausted"
	StopError      StopReason = "error"
)

const DefaultStagnationPages = 2

// Policy is the caller-side termination rule applied between pages.
type Policy struct {
	// StagnationPages consecutive pages without a new unique item end the walk.
	StagnationPages int
	// MaxItems caps unique items collected; zero means no cap.
	MaxItems int
}

type Collected[T any] struct {
	Items  []T
	Pages  int
	Reason StopReason
}

// Collect pulls pages from it until a page is empty, the stagnation threshold
// is hit, the item cap is reached, or the iterator is exhausted. Items are
// deduplicated by key and kept in discovery order.
func Collect[T any](ctx context.Context, it *Iterator[T], key func(T) string, policy Policy) (Collected[T], error) {
	if policy.StagnationPages <= 0 {
		policy.StagnationPages = DefaultStagnationPages
	}

	var out Collected[T]
	seen := make(map[string]bool)
	stagnant := 0

	for it.Next(ctx) {
		page := it.Page()
		out.Pages++
		if len(page.Items) == 0 {
			out.Reason = StopEmpty
			return out, nil
		}

		added := 0
		for _, item := range page.Items {
			k := key(item)
			if seen[k] {
				continue
			}
			seen[k] = true
			out.Items = append(out.Items, item)
			added++
			if policy.MaxItems > 0 && len(out.Items) >= policy.MaxItems {
				out.Reason = StopCap
				return out, nil
			}
		}

		if added == 0 {
			stagnant++
			if stagnant >= policy.StagnationPages {
				out.Reason = StopStagnation
				return out, nil
			}
		} else {
			stagnant = 0
		}
	}

	if err := it.Err(); err != nil {
		out.Reason = StopError
		return out, err
	}
	out.Reason = StopExhausted
	return out, nil
}
