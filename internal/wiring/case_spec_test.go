package wiring

import (
	"context"
	"path/filepath"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"investigator/internal/aggregate"
	"investigator/internal/history"
	"investigator/internal/logging"
	"investigator/internal/orchestrate"
)

var _ = ginkgo.Describe("Case lifecycle", func() {
	var (
		ctx context.Context
		dir string
		c   *Case
	)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		dir = filepath.Join(ginkgo.GinkgoT().TempDir(), "port")
		created, err := Init(dir, "Port concession")
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(created).To(gomega.BeTrue())

		c, err = Open(dir, Options{Logger: logging.Discard(), Now: clock, History: history.NewMemStore()})
		gomega.Expect(err).To(gomega.Succeed())
		ginkgo.DeferCleanup(c.Close)
	})

	ginkgo.It("asks for planning on a fresh case", func() {
		act, err := c.Next(ctx, orchestrate.Options{})
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(act.Status).To(gomega.Equal(orchestrate.StatusContinue))
		gomega.Expect(act.Phase).To(gomega.Equal(orchestrate.PhasePlan))
		gomega.Expect(act.Command).To(gomega.Equal(orchestrate.CmdPlan))
		gomega.Expect(act.Status.ExitCode()).To(gomega.Equal(2))
	})

	ginkgo.It("completes once every gate passes and reports no blocking gaps", func() {
		gomega.Expect(layoutFinishedCase(dir)).To(gomega.Succeed())

		act, err := c.Next(ctx, orchestrate.Options{})
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(act.Status).To(gomega.Equal(orchestrate.StatusComplete))
		gomega.Expect(act.Advanced).To(gomega.HaveLen(1))
		gomega.Expect(act.Advanced[0].Rule).To(gomega.Equal("all-gates"))

		rep, err := c.Aggregate(ctx)
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(rep.Iteration).To(gomega.Equal(1))
		gomega.Expect(rep.Blocking).To(gomega.BeEmpty())

		d, err := aggregate.LoadDigest(dir)
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(d.CanTerminate).To(gomega.BeTrue())
		gomega.Expect(d.Iteration).To(gomega.Equal(1))
	})

	ginkgo.It("flags a regressed phase through the state verifier", func() {
		st := orchestrate.InitState("port")
		st.Phase = orchestrate.PhaseWrite
		st.Gates = map[string]bool{"planning": true}
		gomega.Expect(orchestrate.SaveState(dir, st)).To(gomega.Succeed())

		rep, err := c.Aggregate(ctx)
		gomega.Expect(err).To(gomega.Succeed())
		var fromState []string
		for _, g := range rep.Blocking {
			if g.Verifier == "state" {
				fromState = append(fromState, g.Type)
			}
		}
		gomega.Expect(fromState).To(gomega.ConsistOf("STATE_INCONSISTENT"))
	})
})
