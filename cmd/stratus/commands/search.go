package commands

import (
	"context"
)

// IndexCmd implements the 'index' command.
type IndexCmd struct{}

func (i *IndexCmd) Run(_ *Global, root *CLI) error {
	client, err := dialDaemon(root.DataDir)
	if err != nil {
		return err
	}
	result, err := client.post(context.Background(), "/api/retrieval/index", nil)
	if err != nil {
		return err
	}
	return printJSON(result)
}

// SearchCmd implements the 'search' command.
type SearchCmd struct {
	Query  string `arg:"" help:"Search query"`
	Corpus string `help:"Corpus to search" enum:"code,governance,hybrid" default:"hybrid"`
	TopK   int    `name:"top-k" help:"Maximum results" default:"10"`
}

func (s *SearchCmd) Run(_ *Global, root *CLI) error {
	client, err := dialDaemon(root.DataDir)
	if err != nil {
		return err
	}
	result, err := client.post(context.Background(), "/api/retrieval/search", map[string]any{
		"query":  s.Query,
		"corpus": s.Corpus,
		"top_k":  s.TopK,
	})
	if err != nil {
		return err
	}
	return printJSON(result)
}
