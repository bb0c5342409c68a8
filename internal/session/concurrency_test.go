package session_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/cliagent/internal/event"
	"github.com/opencode-ai/cliagent/internal/runtime/runtimetest"
	"github.com/opencode-ai/cliagent/internal/session"
	"github.com/opencode-ai/cliagent/pkg/types"
)

var _ = Describe("Service concurrency", func() {
	var (
		rt  *runtimetest.Runtime
		bus *event.Bus
		svc *session.Service
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		rt = runtimetest.New()
		bus = event.NewBus()
		svc = session.NewService(session.Config{Runtime: rt, Bus: bus, IdleTimeout: time.Minute})
	})

	AfterEach(func() {
		Expect(svc.Close()).To(Succeed())
		Expect(bus.Close()).To(Succeed())
	})

	Describe("GetSession", func() {
		It("materializes a session once for concurrent callers", func() {
			rt.AddSession("s1", types.NewUserMessage("hello"))
			rt.GetHook = func(context.Context, string) {
				time.Sleep(30 * time.Millisecond)
			}

			const callers = 10
			refs := make([]*session.RefCounted, callers)
			var wg sync.WaitGroup
			for i := range callers {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					ref, err := svc.GetSession(ctx, "s1", session.Options{})
					Expect(err).NotTo(HaveOccurred())
					refs[i] = ref
				}()
			}
			wg.Wait()

			Expect(rt.GetCalls("s1")).To(Equal(1))
			for _, ref := range refs {
				Expect(ref).To(BeIdenticalTo(refs[0]))
			}
			Expect(refs[0].Refs()).To(Equal(callers))
		})

		It("does not serialize different ids", func() {
			rt.AddSession("slow")
			rt.AddSession("fast")
			unblock := make(chan struct{})
			entered := make(chan struct{})
			rt.GetHook = func(_ context.Context, id string) {
				if id == "slow" {
					close(entered)
					<-unblock
				}
			}

			slowDone := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				defer close(slowDone)
				ref, err := svc.GetSession(ctx, "slow", session.Options{})
				Expect(err).NotTo(HaveOccurred())
				Expect(ref).NotTo(BeNil())
			}()

			Eventually(entered).Should(BeClosed())

			fastCtx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			ref, err := svc.GetSession(fastCtx, "fast", session.Options{})
			Expect(err).NotTo(HaveOccurred())
			Expect(ref).NotTo(BeNil())
			Consistently(slowDone, 20*time.Millisecond).ShouldNot(BeClosed())

			close(unblock)
			Eventually(slowDone).Should(BeClosed())
		})
	})

	Describe("reference counting", func() {
		It("disposes exactly once after the last release", func() {
			fake := rt.AddSession("s1")

			var refs []*session.RefCounted
			for range 4 {
				ref, err := svc.GetSession(ctx, "s1", session.Options{})
				Expect(err).NotTo(HaveOccurred())
				refs = append(refs, ref)
			}

			for _, ref := range refs[:3] {
				ref.Release()
			}
			Expect(refs[3].Disposed()).To(BeFalse())
			Expect(svc.Live()).To(ConsistOf("s1"))

			refs[3].Release()
			Expect(refs[3].Disposed()).To(BeTrue())
			Expect(fake.CloseCalls()).To(Equal(1))
			Expect(svc.Live()).To(BeEmpty())
		})
	})

	Describe("idle timeout", func() {
		It("keeps a session that is reacquired in time", func() {
			Expect(svc.Close()).To(Succeed())
			svc = session.NewService(session.Config{Runtime: rt, Bus: bus, IdleTimeout: 80 * time.Millisecond})
			rt.NewScript = runtimetest.Reply("ok")

			ref, err := svc.CreateSession(ctx, "hi", session.Options{})
			Expect(err).NotTo(HaveOccurred())
			Expect(ref.HandleRequest(ctx, "hi", nil, "")).To(Succeed())

			time.Sleep(50 * time.Millisecond)
			again, err := svc.GetSession(ctx, ref.ID(), session.Options{})
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(BeIdenticalTo(ref))

			time.Sleep(50 * time.Millisecond)
			Expect(ref.Disposed()).To(BeFalse())

			Eventually(ref.Disposed).Should(BeTrue())
		})
	})
})
