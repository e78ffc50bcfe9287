package qaloop_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/qaloop"
)

type fakeCoder struct{ invocations int }

func (f *fakeCoder) Execute(_ context.Context, _ core.Task) (core.TaskResult, error) {
	f.invocations++
	return core.TaskResult{Outcome: core.OutcomeSuccess}, nil
}

func (f *fakeCoder) Kind() core.AgentType { return core.AgentCoder }

// scriptedStep returns each result in results in order, repeating the
// last one once exhausted.
func scriptedStep(results ...core.QAStepResult) qaloop.Step {
	calls := 0
	return func(_ context.Context, iteration int) (core.QAStepResult, error) {
		idx := calls
		if idx >= len(results) {
			idx = len(results) - 1
		}
		calls++
		r := results[idx]
		r.Iteration = iteration
		return r, nil
	}
}

var _ = Describe("QALoopEngine", func() {
	var task core.Task

	BeforeEach(func() {
		task = core.Task{ID: "t1", Name: "add widget", Description: "build a widget"}
	})

	It("succeeds immediately when every step passes on the first try", func() {
		coder := &fakeCoder{}
		engine := qaloop.New(qaloop.Config{
			Coder: coder,
			Build: scriptedStep(core.QAStepResult{Step: core.QABuild, Success: true}),
			Lint:  scriptedStep(core.QAStepResult{Step: core.QALint, Success: true}),
			Test:  scriptedStep(core.QAStepResult{Step: core.QATest, Success: true}),
		})

		result, err := engine.Run(context.Background(), task)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Success).To(BeTrue())
		Expect(result.Iterations).To(Equal(1))
		Expect(coder.invocations).To(Equal(1))
	})

	It("retries the coder on a failing build until it passes", func() {
		coder := &fakeCoder{}
		engine := qaloop.New(qaloop.Config{
			Coder: coder,
			Build: scriptedStep(
				core.QAStepResult{Step: core.QABuild, Success: false, Issues: []core.QAIssue{{Message: "type error"}}},
				core.QAStepResult{Step: core.QABuild, Success: true},
			),
		})

		result, err := engine.Run(context.Background(), task)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Success).To(BeTrue())
		Expect(result.Iterations).To(Equal(2))
		Expect(coder.invocations).To(Equal(2))
	})

	It("skips remaining steps this iteration when stopOnFirstFailure is set", func() {
		lintCalled := false
		lint := func(_ context.Context, _ int) (core.QAStepResult, error) {
			lintCalled = true
			return core.QAStepResult{Step: core.QALint, Success: true}, nil
		}
		engine := qaloop.New(qaloop.Config{
			Coder:              &fakeCoder{},
			StopOnFirstFailure: true,
			MaxIterations:      1,
			Build:              scriptedStep(core.QAStepResult{Step: core.QABuild, Success: false}),
			Lint:               lint,
		})

		result, err := engine.Run(context.Background(), task)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Success).To(BeFalse())
		Expect(lintCalled).To(BeFalse())
	})

	It("escalates immediately when build fails with zero parseable errors for three iterations", func() {
		engine := qaloop.New(qaloop.Config{
			Coder:         &fakeCoder{},
			MaxIterations: 50,
			Build:         scriptedStep(core.QAStepResult{Step: core.QABuild, Success: false}),
		})

		result, err := engine.Run(context.Background(), task)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Escalated).To(BeTrue())
		Expect(result.Reason).To(ContainSubstring("no parseable errors"))
		Expect(result.Iterations).To(Equal(3))
	})

	It("escalates after exhausting max iterations against a build with parseable errors every time", func() {
		engine := qaloop.New(qaloop.Config{
			Coder:         &fakeCoder{},
			MaxIterations: 4,
			Build: scriptedStep(core.QAStepResult{
				Step: core.QABuild, Success: false, Issues: []core.QAIssue{{Message: "still broken"}},
			}),
		})

		result, err := engine.Run(context.Background(), task)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Escalated).To(BeTrue())
		Expect(result.Reason).To(Equal("Max QA iterations exceeded"))
		Expect(result.Iterations).To(Equal(4))
	})
})
