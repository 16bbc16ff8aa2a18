// Command render renders a Drosera template, or the body of a page, with a
// data file and writes the result to stdout or a file.
//
//	render -root ./pages -page home
//	render -template card.html -data card.yaml -o card.out.html -strict
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/CTAG07/Drosera/pkg/pagedata"
	"github.com/CTAG07/Drosera/pkg/templating"
	"github.com/mattn/go-isatty"
	"github.com/natefinch/atomic"
)

var (
	errUnresolved = errors.New("template has unresolved markers")
	errNoInput    = errors.New("one of -page or -template is required")
)

type options struct {
	root     string
	template string
	data     string
	page     string
	output   string
	strict   bool
}

// pickFunc chooses one page out of the available ones.
type pickFunc func(pages []string) (string, error)

func main() {
	var opts options
	flag.StringVar(&opts.root, "root", "./pages", "pages directory")
	flag.StringVar(&opts.template, "template", "", "template file to render")
	flag.StringVar(&opts.data, "data", "", "JSON or YAML data file (defaults to the page's data file with -page)")
	flag.StringVar(&opts.page, "page", "", "page to render from <root>/<page>/<page>_template.html")
	flag.StringVar(&opts.output, "o", "", "output file (stdout if empty)")
	flag.BoolVar(&opts.strict, "strict", false, "fail when markers remain unresolved")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	var pick pickFunc
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		pick = surveyPick
	}

	err := run(opts, logger, os.Stdout, os.Stderr, pick)
	switch {
	case err == nil:
	case errors.Is(err, errUnresolved):
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "render: %v\n", err)
		if errors.Is(err, errNoInput) {
			flag.Usage()
		}
		os.Exit(1)
	}
}

func surveyPick(pages []string) (string, error) {
	var out string
	prompt := &survey.Select{
		Message: "Page to render:",
		Options: pages,
	}
	if err := survey.AskOne(prompt, &out); err != nil {
		if errors.Is(err, terminal.InterruptErr) {
			return "", errors.New("aborted")
		}
		return "", err
	}
	return out, nil
}

func run(opts options, logger *slog.Logger, stdout, stderr io.Writer, pick pickFunc) error {
	store := pagedata.NewStore(opts.root, pagedata.WithLogger(logger))

	if opts.page == "" && opts.template == "" {
		if pick == nil {
			return errNoInput
		}
		available, err := pagesWithTemplates(opts.root, logger)
		if err != nil {
			return err
		}
		if len(available) == 0 {
			return fmt.Errorf("no pages found in %s", opts.root)
		}
		if opts.page, err = pick(available); err != nil {
			return err
		}
	}

	tmpl, err := loadTemplate(opts, logger)
	if err != nil {
		return err
	}
	ctx, err := loadData(opts, store)
	if err != nil {
		return err
	}

	res := tmpl.RenderResult(ctx)
	if opts.output == "" {
		if _, err = io.WriteString(stdout, res.Output); err != nil {
			return err
		}
	} else if err = atomic.WriteFile(opts.output, bytes.NewReader([]byte(res.Output))); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if opts.strict && len(res.Unresolved) > 0 {
		for _, u := range res.Unresolved {
			fmt.Fprintf(stderr, "%s:%d: unresolved %s\n", tmpl.Name(), u.Line, u.Marker)
		}
		return fmt.Errorf("%w: %d", errUnresolved, len(res.Unresolved))
	}
	return nil
}

func loadTemplate(opts options, logger *slog.Logger) (*templating.Template, error) {
	if opts.template != "" {
		content, err := os.ReadFile(opts.template)
		if err != nil {
			return nil, fmt.Errorf("failed to read template: %w", err)
		}
		return templating.ParseNamed(opts.template, string(content)), nil
	}

	tm, err := templating.NewTemplateManager(logger, nil, opts.root)
	if err != nil {
		return nil, err
	}
	return tm.Get(opts.page + "/" + opts.page + "_template.html")
}

func loadData(opts options, store *pagedata.Store) (templating.Context, error) {
	if opts.data != "" {
		return store.LoadFile(opts.data)
	}
	if opts.page == "" {
		return templating.Context{}, nil
	}
	ctx, err := store.Load(opts.page)
	if errors.Is(err, pagedata.ErrNotFound) {
		return templating.Context{}, nil
	}
	return ctx, err
}

// pagesWithTemplates lists the pages under root that follow the
// <page>/<page>_template.html layout.
func pagesWithTemplates(root string, logger *slog.Logger) ([]string, error) {
	tm, err := templating.NewTemplateManager(logger, nil, root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range tm.GetTemplateNames() {
		dir, file := path.Split(name)
		page := strings.TrimSuffix(dir, "/")
		if page != "" && file == page+"_template.html" {
			out = append(out, page)
		}
	}
	sort.Strings(out)
	return out, nil
}
