package commands

import (
	"context"
	"io"
	"net/url"
	"os"
)

// SpecCmd groups the orchestration commands. Each subcommand drives one
// state-machine transition on the daemon; the daemon owns all persistence
// and worktree handling.
type SpecCmd struct {
	Start       SpecStartCmd       `cmd:"" help:"Register a spec and enter planning"`
	ApprovePlan SpecApprovePlanCmd `cmd:"" name:"approve-plan" help:"Approve the plan, create the worktree, enter implementing"`
	Task        SpecTaskCmd        `cmd:"" help:"Mark a task started or completed"`
	Verify      SpecVerifyCmd      `cmd:"" help:"Enter verification once all tasks are complete"`
	Verdict     SpecVerdictCmd     `cmd:"" help:"Submit a reviewer's raw output as a verdict"`
	Resolve     SpecResolveCmd     `cmd:"" help:"Resolve the verdict set: pass, fix loop, or abort"`
	Learn       SpecLearnCmd       `cmd:"" help:"Sync the worktree and enter learning"`
	Complete    SpecCompleteCmd    `cmd:"" help:"Clean up the worktree and mark the spec done"`
	Abort       SpecAbortCmd       `cmd:"" help:"Abort the spec, keeping the worktree for inspection"`
	Status      SpecStatusCmd      `cmd:"" help:"Show one spec's state, or all active specs"`
}

type SpecStartCmd struct {
	Slug string `arg:"" help:"Spec slug (lowercase, hyphen-separated)"`
	Plan string `help:"Path to the plan file (pins the worktree fingerprint)"`
}

func (s *SpecStartCmd) Run(_ *Global, root *CLI) error {
	return specPost(root, "/api/orchestration/start", map[string]any{
		"slug":      s.Slug,
		"plan_path": s.Plan,
	})
}

type SpecApprovePlanCmd struct {
	Slug  string `arg:"" help:"Spec slug"`
	Tasks int    `arg:"" help:"Total number of plan tasks"`
}

func (s *SpecApprovePlanCmd) Run(_ *Global, root *CLI) error {
	return specPost(root, "/api/orchestration/approve_plan", map[string]any{
		"slug":        s.Slug,
		"total_tasks": s.Tasks,
	})
}

type SpecTaskCmd struct {
	Slug string `arg:"" help:"Spec slug"`
	Num  int    `arg:"" help:"Task number (1-based)"`
	Done bool   `help:"Mark the task complete instead of started"`
}

func (s *SpecTaskCmd) Run(_ *Global, root *CLI) error {
	path := "/api/orchestration/start_task"
	if s.Done {
		path = "/api/orchestration/complete_task"
	}
	return specPost(root, path, map[string]any{
		"slug":     s.Slug,
		"task_num": s.Num,
	})
}

type SpecVerifyCmd struct {
	Slug string `arg:"" help:"Spec slug"`
}

func (s *SpecVerifyCmd) Run(_ *Global, root *CLI) error {
	return specPost(root, "/api/orchestration/start_verify", map[string]any{"slug": s.Slug})
}

type SpecVerdictCmd struct {
	Slug     string `arg:"" help:"Spec slug"`
	Reviewer string `arg:"" help:"Reviewer name"`
	File     string `help:"File with the reviewer's raw output (default: stdin)"`
}

func (s *SpecVerdictCmd) Run(_ *Global, root *CLI) error {
	var raw []byte
	var err error
	if s.File != "" {
		raw, err = os.ReadFile(s.File)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return err
	}
	return specPost(root, "/api/orchestration/submit_verdict", map[string]any{
		"slug":     s.Slug,
		"reviewer": s.Reviewer,
		"output":   string(raw),
	})
}

type SpecResolveCmd struct {
	Slug string `arg:"" help:"Spec slug"`
}

func (s *SpecResolveCmd) Run(_ *Global, root *CLI) error {
	return specPost(root, "/api/orchestration/resolve_verify", map[string]any{"slug": s.Slug})
}

type SpecLearnCmd struct {
	Slug string `arg:"" help:"Spec slug"`
}

func (s *SpecLearnCmd) Run(_ *Global, root *CLI) error {
	return specPost(root, "/api/orchestration/start_learn", map[string]any{"slug": s.Slug})
}

type SpecCompleteCmd struct {
	Slug string `arg:"" help:"Spec slug"`
}

func (s *SpecCompleteCmd) Run(_ *Global, root *CLI) error {
	return specPost(root, "/api/orchestration/complete", map[string]any{"slug": s.Slug})
}

type SpecAbortCmd struct {
	Slug   string `arg:"" help:"Spec slug"`
	Reason string `help:"Abort reason recorded on the state" default:"user_requested"`
}

func (s *SpecAbortCmd) Run(_ *Global, root *CLI) error {
	return specPost(root, "/api/orchestration/abort", map[string]any{
		"slug":   s.Slug,
		"reason": s.Reason,
	})
}

type SpecStatusCmd struct {
	Slug string `arg:"" optional:"" help:"Spec slug (omit to list all active specs)"`
}

func (s *SpecStatusCmd) Run(_ *Global, root *CLI) error {
	client, err := dialDaemon(root.DataDir)
	if err != nil {
		return err
	}
	path := "/api/orchestration/state"
	if s.Slug != "" {
		path += "?slug=" + url.QueryEscape(s.Slug)
	}
	result, err := client.get(context.Background(), path)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func specPost(root *CLI, path string, body map[string]any) error {
	client, err := dialDaemon(root.DataDir)
	if err != nil {
		return err
	}
	result, err := client.post(context.Background(), path, body)
	if err != nil {
		return err
	}
	return printJSON(result)
}
