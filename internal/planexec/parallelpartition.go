package planexec

import (
	"fmt"
	"io"
	"sync"

	"github.com/ppds-sdk/sqlengine/internal/planctx"
	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// parallelQueueCapacity is the bounded back-pressure queue size from §4.5.3.
const parallelQueueCapacity = 1000

// ParallelPartition runs up to MaxParallelism children concurrently,
// forwarding their rows through one consumer-drained bounded queue.
// Statistics paging metadata is suppressed for the duration, since
// concurrent children would otherwise race on the shared paging fields.
type ParallelPartition struct {
	Children      []Node
	MaxParallelism int

	once    sync.Once
	rowCh   chan *sqltypes.QueryRow
	errCh   chan error
	doneErr error
}

// NewParallelPartition builds a partition over children, fanning out at
// most maxParallelism at a time (clamped to ctx.PoolCapacity by the shared
// semaphore acquired per child, per Open Question (a)).
func NewParallelPartition(children []Node, maxParallelism int) *ParallelPartition {
	if maxParallelism <= 0 {
		maxParallelism = 1
	}
	return &ParallelPartition{Children: children, MaxParallelism: maxParallelism}
}

func (p *ParallelPartition) start(ctx *planctx.Context) {
	ctx.Stats.SuppressPaging()
	p.rowCh = make(chan *sqltypes.QueryRow, parallelQueueCapacity)
	p.errCh = make(chan error, 1)

	go func() {
		var wg sync.WaitGroup
		local := planctx.NewSemaphore(p.MaxParallelism)
		for _, child := range p.Children {
			child := child
			if err := local.Acquire(ctx.Go.Done()); err != nil {
				select {
				case p.errCh <- err:
				default:
				}
				break
			}
			if err := ctx.PoolCapacity.Acquire(ctx.Go.Done()); err != nil {
				local.Release()
				select {
				case p.errCh <- err:
				default:
				}
				break
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer local.Release()
				defer ctx.PoolCapacity.Release()
				for {
					if ctx.Cancelled() {
						select {
						case p.errCh <- ctx.Go.Err():
						default:
						}
						return
					}
					row, err := child.Next(ctx)
					if err != nil {
						if err != io.EOF {
							select {
							case p.errCh <- err:
							default:
							}
						}
						return
					}
					select {
					case p.rowCh <- row:
					case <-ctx.Go.Done():
						return
					}
				}
			}()
		}
		wg.Wait()
		close(p.rowCh)
	}()
}

// Next implements Node.
func (p *ParallelPartition) Next(ctx *planctx.Context) (*sqltypes.QueryRow, error) {
	p.once.Do(func() { p.start(ctx) })
	select {
	case row, ok := <-p.rowCh:
		if !ok {
			select {
			case err := <-p.errCh:
				return nil, err
			default:
				return nil, io.EOF
			}
		}
		return row, nil
	case err := <-p.errCh:
		return nil, err
	}
}

// Describe implements Node.
func (p *ParallelPartition) Describe(indent string) string {
	s := fmt.Sprintf("%sParallelPartition(max_parallelism=%d, children=%d)", indent, p.MaxParallelism, len(p.Children))
	for _, c := range p.Children {
		s += "\n" + c.Describe(indent+"  ")
	}
	return s
}
