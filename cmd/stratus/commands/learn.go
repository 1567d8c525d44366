package commands

import (
	"context"
	"fmt"
	"net/url"
	"os"
)

// LearnCmd groups the learning pipeline commands.
type LearnCmd struct {
	Analyze   LearnAnalyzeCmd   `cmd:"" help:"Mine recent commits for heuristics and draft proposals"`
	Proposals LearnProposalsCmd `cmd:"" help:"List pending proposals"`
	Decide    LearnDecideCmd    `cmd:"" help:"Accept, reject, or edit a proposal"`
	Stats     LearnStatsCmd     `cmd:"" help:"Show learning pipeline statistics"`
}

type LearnAnalyzeCmd struct {
	Since string `help:"Analyze commits after this hash (default: last analyzed commit)"`
}

func (l *LearnAnalyzeCmd) Run(_ *Global, root *CLI) error {
	client, err := dialDaemon(root.DataDir)
	if err != nil {
		return err
	}
	result, err := client.post(context.Background(), "/api/learning/analyze", map[string]any{
		"since_commit": l.Since,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

type LearnProposalsCmd struct {
	Max           int     `help:"Maximum proposals to surface (0 uses the configured session cap)"`
	MinConfidence float64 `name:"min-confidence" help:"Confidence floor (0 uses the configured sensitivity)"`
}

func (l *LearnProposalsCmd) Run(_ *Global, root *CLI) error {
	client, err := dialDaemon(root.DataDir)
	if err != nil {
		return err
	}
	query := url.Values{}
	if l.Max > 0 {
		query.Set("max_count", fmt.Sprint(l.Max))
	}
	if l.MinConfidence > 0 {
		query.Set("min_confidence", fmt.Sprint(l.MinConfidence))
	}
	path := "/api/learning/proposals"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	result, err := client.get(context.Background(), path)
	if err != nil {
		return err
	}
	return printJSON(result)
}

type LearnDecideCmd struct {
	ProposalID  string `arg:"" name:"proposal-id" help:"Proposal identifier"`
	Decision    string `arg:"" enum:"accept,reject,edit" help:"Decision to record"`
	ContentFile string `name:"content-file" help:"File holding the edited artifact content (decision 'edit')"`
}

func (l *LearnDecideCmd) Run(_ *Global, root *CLI) error {
	client, err := dialDaemon(root.DataDir)
	if err != nil {
		return err
	}
	edited := ""
	if l.ContentFile != "" {
		data, err := os.ReadFile(l.ContentFile)
		if err != nil {
			return err
		}
		edited = string(data)
	}
	result, err := client.post(context.Background(), "/api/learning/decide", map[string]any{
		"proposal_id":    l.ProposalID,
		"decision":       l.Decision,
		"edited_content": edited,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}

type LearnStatsCmd struct{}

func (l *LearnStatsCmd) Run(_ *Global, root *CLI) error {
	client, err := dialDaemon(root.DataDir)
	if err != nil {
		return err
	}
	result, err := client.get(context.Background(), "/api/learning/stats")
	if err != nil {
		return err
	}
	return printJSON(result)
}
