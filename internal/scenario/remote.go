package scenario

import (
	"context"
	"strings"

	"github.com/mlsbench/mlsbench/internal/dispatch"
	"github.com/mlsbench/mlsbench/internal/endpoint"
	"github.com/mlsbench/mlsbench/internal/template"
)

// EchoCommand renders a shell command that writes content to path line by
// line, first line truncating, the rest appending. It is how config files
// reach remote endpoints without a file-transfer channel.
func EchoCommand(content, path string) string {
	var parts []string
	first := true
	for _, line := range strings.Split(content, "\n") {
		if line == "" {
			continue
		}
		pipe := ">>"
		if first {
			pipe = ">"
			first = false
		}
		parts = append(parts, "echo "+shellQuote(line)+" "+pipe+" "+path)
	}
	return strings.Join(parts, " && ")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// PrepareRemoteDirs recreates each remote endpoint's working directory from
// scratch.
func PrepareRemoteDirs(ctx context.Context, d *dispatch.Dispatcher, eps []*endpoint.Endpoint) error {
	tmpl := []template.Token{
		template.Lit("rm -r ~/"), template.Dir(template.SelfName), template.Lit("/; "),
		template.Lit("mkdir ~/"), template.Dir(template.SelfName), template.Lit("/"),
	}
	_, err := d.Run(ctx, eps, tmpl, dispatch.Options{NoSpace: true})
	return err
}

// PushFile writes content to path in every endpoint's working directory.
func PushFile(ctx context.Context, d *dispatch.Dispatcher, eps []*endpoint.Endpoint, content, path string) error {
	_, err := d.Run(ctx, eps, template.Lits(EchoCommand(content, path)), dispatch.Options{})
	return err
}
