package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/codeloom-ai/codeloom/citest/testutil"
	"github.com/codeloom-ai/codeloom/internal/engine"
	"github.com/codeloom-ai/codeloom/internal/event"
	"github.com/codeloom-ai/codeloom/internal/provider"
	"github.com/codeloom-ai/codeloom/internal/session"
	"github.com/codeloom-ai/codeloom/internal/tool"
	"github.com/codeloom-ai/codeloom/pkg/types"
)

var _ = Describe("Engine", func() {
	var (
		mock *testutil.MockLLMServer
		bus  *event.Bus
		eng  *engine.Engine
		opts types.Options
	)

	newEngine := func(cfg types.EngineConfig) *engine.Engine {
		registry := provider.NewRegistry(&types.Config{})
		adapter, err := provider.NewOpenAIAdapter(&provider.OpenAIConfig{
			APIKey:  "test-key",
			BaseURL: mock.URL(),
		})
		Expect(err).NotTo(HaveOccurred())
		registry.Register(adapter)
		return engine.New(registry, cfg, bus)
	}

	BeforeEach(func() {
		mock = testutil.NewMockLLMServer()
		bus = event.NewBus()
		eng = newEngine(types.EngineConfig{MaxConcurrent: 4, RequestTimeoutSeconds: 10, CacheTTLSeconds: 300})
		opts = types.Options{Provider: "openai", Model: "mock-model"}
	})

	AfterEach(func() {
		eng.CancelAll()
		bus.Close()
		mock.Close()
	})

	Describe("one-shot requests", func() {
		It("returns the model's answer", func() {
			done := make(chan string, 1)
			eng.Request(context.Background(), []types.Message{types.UserMessage("what is 2+2?")}, opts,
				func(text string, err error) {
					Expect(err).NotTo(HaveOccurred())
					done <- text
				})
			Eventually(done).Should(Receive(Equal("4")))
		})

		It("serves repeated requests from the cache", func() {
			messages := []types.Message{types.UserMessage("hello there")}

			for i := 0; i < 3; i++ {
				done := make(chan struct{})
				eng.Request(context.Background(), messages, opts, func(text string, err error) {
					Expect(err).NotTo(HaveOccurred())
					Expect(text).To(Equal("Hello! How can I help you today?"))
					close(done)
				})
				Eventually(done).Should(BeClosed())
			}

			Expect(mock.RequestCount()).To(Equal(1))
		})

		It("goes back to the network after a cache purge", func() {
			messages := []types.Message{types.UserMessage("hello there")}

			ask := func() {
				done := make(chan struct{})
				eng.Request(context.Background(), messages, opts, func(text string, err error) {
					close(done)
				})
				Eventually(done).Should(BeClosed())
			}

			ask()
			eng.PurgeCache()
			ask()
			Expect(mock.RequestCount()).To(Equal(2))
		})
	})

	Describe("streaming requests", func() {
		It("delivers deltas incrementally and completes with the full text", func() {
			var mu sync.Mutex
			var chunks []string
			done := make(chan *provider.Result, 1)

			eng.RequestStream(context.Background(), []types.Message{types.UserMessage("hello there")}, opts,
				func(delta string) {
					mu.Lock()
					chunks = append(chunks, delta)
					mu.Unlock()
				},
				func(result *provider.Result, err error) {
					Expect(err).NotTo(HaveOccurred())
					done <- result
				})

			var result *provider.Result
			Eventually(done).Should(Receive(&result))
			Expect(result.Text).To(Equal("Hello! How can I help you today?"))

			mu.Lock()
			defer mu.Unlock()
			Expect(len(chunks)).To(BeNumerically(">", 1), "content must arrive in multiple deltas")
			Expect(joinChunks(chunks)).To(Equal(result.Text))
		})

		It("reassembles tool-call fragments into complete calls", func() {
			toolDef := types.ToolDefinition{
				Name:        "get_weather",
				Description: "current weather for a city",
				Parameters:  json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`),
			}
			streamOpts := opts
			streamOpts.Tools = []types.ToolDefinition{toolDef}

			done := make(chan *provider.Result, 1)
			eng.RequestStream(context.Background(),
				[]types.Message{types.UserMessage("what is the weather in NYC?")}, streamOpts,
				nil,
				func(result *provider.Result, err error) {
					Expect(err).NotTo(HaveOccurred())
					done <- result
				})

			var result *provider.Result
			Eventually(done).Should(Receive(&result))
			Expect(result.ToolCalls).To(HaveLen(1))
			Expect(result.ToolCalls[0].Name).To(Equal("get_weather"))
			Expect(result.ToolCalls[0].Arguments).To(MatchJSON(`{"city":"NYC"}`))
		})

		It("never caches streamed results", func() {
			messages := []types.Message{types.UserMessage("hello there")}
			for i := 0; i < 2; i++ {
				done := make(chan struct{})
				eng.RequestStream(context.Background(), messages, opts, nil,
					func(result *provider.Result, err error) { close(done) })
				Eventually(done).Should(BeClosed())
			}
			Expect(mock.RequestCount()).To(Equal(2))
		})
	})

	Describe("concurrency limits", func() {
		It("queues excess requests and completes them all", func() {
			mock.SetDelay(150 * time.Millisecond)
			eng = newEngine(types.EngineConfig{MaxConcurrent: 2, RequestTimeoutSeconds: 10})

			var mu sync.Mutex
			var queued int
			bus.Subscribe(event.RequestQueued, func(ev event.Event) {
				mu.Lock()
				queued++
				mu.Unlock()
			})

			completions := make(chan struct{}, 4)
			for i := 0; i < 4; i++ {
				// Distinct prompts defeat the cache.
				msg := types.UserMessage("hello " + string(rune('a'+i)))
				eng.Request(context.Background(), []types.Message{msg}, opts,
					func(text string, err error) {
						Expect(err).NotTo(HaveOccurred())
						completions <- struct{}{}
					})
			}

			for i := 0; i < 4; i++ {
				Eventually(completions, 5*time.Second).Should(Receive())
			}

			mu.Lock()
			defer mu.Unlock()
			Expect(queued).To(Equal(2))
			Expect(eng.InFlight()).To(BeZero())
			Expect(eng.QueueLen()).To(BeZero())
		})

		It("cancels everything outstanding at once", func() {
			mock.SetDelay(5 * time.Second)
			eng = newEngine(types.EngineConfig{MaxConcurrent: 1, RequestTimeoutSeconds: 30})

			errs := make(chan error, 3)
			for i := 0; i < 3; i++ {
				msg := types.UserMessage("slow " + string(rune('a'+i)))
				eng.Request(context.Background(), []types.Message{msg}, opts,
					func(text string, err error) { errs <- err })
			}

			Eventually(eng.InFlight).Should(Equal(1))
			Expect(eng.QueueLen()).To(Equal(2))

			eng.CancelAll()

			for i := 0; i < 3; i++ {
				var err error
				Eventually(errs).Should(Receive(&err))
				Expect(errors.Is(err, engine.ErrCanceled)).To(BeTrue())
			}
			Expect(eng.InFlight()).To(BeZero())
			Expect(eng.QueueLen()).To(BeZero())
		})
	})

	Describe("lifecycle events", func() {
		It("publishes started and completed events for a request", func() {
			var mu sync.Mutex
			var seen []event.Type
			bus.SubscribeAll(func(ev event.Event) {
				mu.Lock()
				seen = append(seen, ev.Type)
				mu.Unlock()
			})

			done := make(chan struct{})
			eng.Request(context.Background(), []types.Message{types.UserMessage("what is 2+2?")}, opts,
				func(text string, err error) { close(done) })
			Eventually(done).Should(BeClosed())

			Eventually(func() []event.Type {
				mu.Lock()
				defer mu.Unlock()
				out := make([]event.Type, len(seen))
				copy(out, seen)
				return out
			}).Should(ContainElements(event.RequestStarted, event.RequestCompleted))
		})
	})
})

var _ = Describe("ChatSession", func() {
	var (
		mock *testutil.MockLLMServer
		eng  *engine.Engine
		opts types.Options
	)

	BeforeEach(func() {
		mock = testutil.NewMockLLMServer()

		registry := provider.NewRegistry(&types.Config{})
		adapter, err := provider.NewOpenAIAdapter(&provider.OpenAIConfig{
			APIKey:  "test-key",
			BaseURL: mock.URL(),
		})
		Expect(err).NotTo(HaveOccurred())
		registry.Register(adapter)

		eng = engine.New(registry, types.EngineConfig{MaxConcurrent: 4, RequestTimeoutSeconds: 10}, nil)
		opts = types.Options{Provider: "openai", Model: "mock-model"}
	})

	AfterEach(func() {
		eng.CancelAll()
		mock.Close()
	})

	It("runs the full tool loop end to end", func() {
		tools := tool.NewRegistry()
		tools.Register(tool.NewFuncTool("get_weather", "current weather for a city",
			json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`),
			func(ctx context.Context, input json.RawMessage) (*tool.Result, error) {
				var args struct {
					City string `json:"city"`
				}
				Expect(json.Unmarshal(input, &args)).To(Succeed())
				Expect(args.City).To(Equal("NYC"))
				return &tool.Result{Title: "weather", Output: "sunny, 22C"}, nil
			}))

		sess, err := session.New(eng, tools, opts, 5, nil)
		Expect(err).NotTo(HaveOccurred())

		type outcome struct {
			text string
			err  error
		}
		done := make(chan outcome, 1)
		sess.Send(context.Background(), "what is the weather in NYC?", nil,
			func(text string, err error) { done <- outcome{text: text, err: err} })

		var o outcome
		Eventually(done, 5*time.Second).Should(Receive(&o))
		Expect(o.err).NotTo(HaveOccurred())
		Expect(o.text).To(Equal("The weather in NYC is sunny."))
		Expect(sess.Iterations()).To(Equal(1))
		Expect(sess.State()).To(Equal(session.StateFinished))

		// user, assistant(tool call), tool result, assistant(final)
		msgs := sess.Messages()
		Expect(msgs).To(HaveLen(4))
		Expect(msgs[1].ToolCalls).To(HaveLen(1))
		Expect(msgs[2].Role).To(Equal(types.RoleTool))
		Expect(msgs[2].Content).To(ContainSubstring("sunny, 22C"))

		// Two model turns hit the backend.
		Expect(mock.RequestCount()).To(Equal(2))
	})

	It("finishes without tools when the model answers directly", func() {
		sess, err := session.New(eng, nil, opts, 5, nil)
		Expect(err).NotTo(HaveOccurred())

		var mu sync.Mutex
		var chunks []string
		done := make(chan string, 1)
		sess.Send(context.Background(), "what is 2+2?",
			func(delta string) {
				mu.Lock()
				chunks = append(chunks, delta)
				mu.Unlock()
			},
			func(text string, err error) {
				Expect(err).NotTo(HaveOccurred())
				done <- text
			})

		Eventually(done).Should(Receive(Equal("4")))
		mu.Lock()
		defer mu.Unlock()
		Expect(joinChunks(chunks)).To(Equal("4"))
	})
})

func joinChunks(chunks []string) string {
	var out string
	for _, c := range chunks {
		out += c
	}
	return out
}
