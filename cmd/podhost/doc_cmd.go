package main

import "github.com/alecthomas/kong"

// DocCmd prints the complete command tree as markdown, for generating
// committed CLI reference docs. kong injects the active *kong.Context
// alongside our own Context by parameter type.
type DocCmd struct{}

func (c *DocCmd) Run(cctx *Context, kctx *kong.Context) error {
	return MarkdownHelpPrinter(kong.HelpOptions{}, kctx)
}
