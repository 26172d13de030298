package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"
)

type kv struct {
	Key   string
	Value interface{}
}

type row []kv

// printer renders aligned tables on a terminal and JSON lines otherwise, so
// output piped into other tools stays machine readable.
type printer struct {
	w     io.Writer
	table bool
}

func newPrinter(f *os.File) *printer {
	return &printer{w: f, table: term.IsTerminal(int(f.Fd()))}
}

// object prints a single record.
func (p *printer) object(r row) error {
	if !p.table {
		return p.jsonLine(r)
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	for _, field := range r {
		fmt.Fprintf(tw, "%s:\t%v\n", field.Key, field.Value)
	}
	return tw.Flush()
}

// rows prints records sharing the columns of the first one.
func (p *printer) rows(rs []row) error {
	if !p.table {
		for _, r := range rs {
			if err := p.jsonLine(r); err != nil {
				return err
			}
		}
		return nil
	}
	if len(rs) == 0 {
		_, err := fmt.Fprintln(p.w, "(none)")
		return err
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	headers := make([]string, 0, len(rs[0]))
	for _, field := range rs[0] {
		headers = append(headers, strings.ToUpper(field.Key))
	}
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, r := range rs {
		cells := make([]string, 0, len(r))
		for _, field := range r {
			cells = append(cells, fmt.Sprint(field.Value))
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func (p *printer) jsonLine(r row) error {
	obj := make(map[string]interface{}, len(r))
	for _, field := range r {
		obj[field.Key] = field.Value
	}
	return json.NewEncoder(p.w).Encode(obj)
}
