package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zeusync/refmirror/internal/core/binding"
	"github.com/zeusync/refmirror/internal/core/cell"
	"github.com/zeusync/refmirror/internal/core/mirror"
	"github.com/zeusync/refmirror/internal/core/observability/log"
	"github.com/zeusync/refmirror/internal/core/store"
	"github.com/zeusync/refmirror/internal/remote/ws"
)

type entry struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func newGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Print the value at path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			got := make(chan store.Snapshot, 1)
			sub, err := client.Ref(args[0]).On(store.EventValue, func(snap store.Snapshot, _ string) {
				select {
				case got <- snap:
				default:
				}
			})
			if err != nil {
				return err
			}
			defer sub.Cancel()

			select {
			case snap := <-got:
				return c.print(snap.Val())
			case <-client.Done():
				return errors.New("connection closed before the value arrived")
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
		},
	}
}

func newWatchCmd(c *cli) *cobra.Command {
	var asValue bool
	cmd := &cobra.Command{
		Use:   "watch <path>",
		Short: "Print the ordered children of path on every change",
		Long: "Print the ordered children of path whenever a child is added, removed, moved\n" +
			"or changes value. Structural changes are coalesced over the configured mirror\n" +
			"throttle window. With --value the whole value at path is printed instead.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, err := c.dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			ref := client.Ref(args[0])
			if asValue {
				v, err := binding.BindValue(ref, nil, binding.WithLogger(c.logger))
				if err != nil {
					return err
				}
				defer v.Unbind()
				v.Subscribe(func(val any) { _ = c.print(val) })
			} else {
				col, err := binding.BindValueCollection(ref,
					binding.WithLogger(c.logger),
					binding.WithThrottle(c.cfg.Mirror.Throttle))
				if err != nil {
					return err
				}
				defer col.Unbind()
				p := newCollectionPrinter(c, col)
				col.SubscribeEntries(p.onEntries)
				// children may have arrived before the subscription
				p.onEntries(col.Entries())
			}

			select {
			case <-ctx.Done():
				return nil
			case <-client.Done():
				return errors.New("connection closed")
			}
		},
	}
	cmd.Flags().BoolVar(&asValue, "value", false, "watch the value at path instead of its children")
	return cmd
}

// collectionPrinter prints a collection's children after structural changes
// and after any child's value changes. Repeated output is suppressed.
type collectionPrinter struct {
	c   *cli
	col *binding.Collection[*binding.Value]

	mu   sync.Mutex
	subs map[*binding.Value]cell.Subscription
	last string
}

func newCollectionPrinter(c *cli, col *binding.Collection[*binding.Value]) *collectionPrinter {
	return &collectionPrinter{c: c, col: col, subs: make(map[*binding.Value]cell.Subscription)}
}

func (p *collectionPrinter) onEntries(es []mirror.Entry[*binding.Value]) {
	p.mu.Lock()
	defer p.mu.Unlock()

	live := make(map[*binding.Value]bool, len(es))
	for _, e := range es {
		live[e.Value] = true
		if _, ok := p.subs[e.Value]; !ok {
			p.subs[e.Value] = e.Value.Subscribe(func(any) { p.refresh() })
		}
	}
	for v, sub := range p.subs {
		if !live[v] {
			sub.Cancel()
			delete(p.subs, v)
		}
	}
	p.printLocked(es)
}

func (p *collectionPrinter) refresh() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printLocked(p.col.Entries())
}

func (p *collectionPrinter) printLocked(es []mirror.Entry[*binding.Value]) {
	out := make([]entry, len(es))
	for i, e := range es {
		out[i] = entry{Key: e.Key, Value: e.Value.Get()}
	}
	b, err := json.Marshal(out)
	if err != nil {
		p.c.logger.Warn("encode children", log.Error(err))
		return
	}
	if string(b) == p.last {
		return
	}
	p.last = string(b)
	fmt.Fprintln(p.c.out, string(b))
}

func newSetCmd(c *cli) *cobra.Command {
	var priority string
	cmd := &cobra.Command{
		Use:   "set <path> <json>",
		Short: "Replace the value at path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.write(cmd.Context(), func(client *ws.Client) error {
				ref := client.Ref(args[0])
				if cmd.Flags().Changed("priority") {
					return ref.SetWithPriority(parseJSON(args[1]), parseJSON(priority))
				}
				return ref.Set(parseJSON(args[1]))
			})
		},
	}
	cmd.Flags().StringVar(&priority, "priority", "", "priority to store with the value (number, string or null)")
	return cmd
}

func newPushCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "push <path> <json>",
		Short: "Append a child under a generated key and print the key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			err := c.write(cmd.Context(), func(client *ws.Client) error {
				child, err := client.Ref(args[0]).Push(parseJSON(args[1]))
				if err != nil {
					return err
				}
				key = child.Key()
				return nil
			})
			if err != nil {
				return err
			}
			return c.print(key)
		},
	}
}

func newPriorityCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "priority <path> <priority>",
		Short: "Set the priority of the child at path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.write(cmd.Context(), func(client *ws.Client) error {
				return client.Ref(args[0]).SetPriority(parseJSON(args[1]))
			})
		},
	}
}

func newRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <path>",
		Short: "Delete the value at path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.write(cmd.Context(), func(client *ws.Client) error {
				return client.Ref(args[0]).Remove()
			})
		},
	}
}

// write runs fn against a fresh connection and closes it, which flushes the
// queued frames.
func (c *cli) write(ctx context.Context, fn func(*ws.Client) error) error {
	client, err := c.dial(ctx)
	if err != nil {
		return err
	}
	if err := fn(client); err != nil {
		_ = client.Close()
		return err
	}
	if err := client.Close(); err != nil {
		return fmt.Errorf("close connection: %w", err)
	}
	return nil
}
