package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// WriteText writes a human-readable report.
func (r *Report) WriteText(w io.Writer) error {
	p := &printer{w: w}

	title := r.Guideline.Title
	if title == "" {
		title = r.Guideline.Identifier
	}
	p.printf("%s\n%s\n", title, strings.Repeat("=", len(title)))
	if r.Guideline.DOI != "" {
		p.printf("DOI: %s\n", r.Guideline.DOI)
	}
	p.printf("Subject: %s (%s)\n", r.Subject.ID, r.Subject.Persona)
	p.printf("State: %s\n", r.State)

	if e := r.Eligibility; e != nil {
		verdict := "eligible"
		if !e.Eligible {
			verdict = "not eligible"
		}
		p.section("Eligibility: " + verdict)
		p.table(func(tw io.Writer) {
			for _, c := range e.Criteria {
				fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", c.ID, c.Type, c.Value, c.Error)
			}
		})
	}

	if s := r.Sufficiency; s != nil {
		p.section("Data")
		p.table(func(tw io.Writer) {
			for _, v := range s.Variables {
				value := "-"
				if len(v.Values) > 0 {
					value = v.Values[0]
				}
				if v.Attested {
					value += " (attested)"
				}
				fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", v.ID, v.Status, value, v.LatestAge)
			}
		})
	}

	if len(r.Pending) > 0 {
		p.section("Awaiting attestation")
		for _, pending := range r.Pending {
			question := pending.Question
			if question == "" {
				question = pending.Title
			}
			p.printf("  %s: %s\n", pending.ID, question)
		}
	}

	if len(r.Assessments) > 0 {
		p.section("Assessments")
		for _, a := range r.Assessments {
			p.line(a.ID, a.Value, a.Narrative, a.Error)
		}
	}

	if len(r.Recommendations) > 0 {
		p.section("Recommendations")
		for _, rec := range r.Recommendations {
			if !rec.Applies && rec.Error == "" {
				continue
			}
			p.line(rec.ID, strength(rec), rec.Narrative, rec.Error)
			if rec.ComplianceNarrative != "" {
				p.printf("      %s\n", rec.ComplianceNarrative)
			}
		}
	}

	if len(r.Errors) > 0 {
		p.section("Errors")
		for _, e := range r.Errors {
			p.printf("  - %s\n", e)
		}
	}
	return p.err
}

func strength(r RecommendationRow) string {
	var parts []string
	if r.ClassOfRecommendation != "" {
		parts = append(parts, "COR "+r.ClassOfRecommendation)
	}
	if r.LevelOfEvidence != "" {
		parts = append(parts, "LOE "+r.LevelOfEvidence)
	}
	if r.Grade != "" {
		parts = append(parts, "Grade "+r.Grade)
	}
	return strings.Join(parts, ", ")
}

// printer keeps the first write error.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...interface{}) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) section(name string) {
	p.printf("\n%s\n", name)
}

func (p *printer) line(id, detail, narrative, errMsg string) {
	if detail != "" {
		p.printf("  * %s [%s]\n", id, detail)
	} else {
		p.printf("  * %s\n", id)
	}
	if narrative != "" {
		p.printf("      %s\n", narrative)
	}
	if errMsg != "" {
		p.printf("      error: %s\n", errMsg)
	}
}

func (p *printer) table(rows func(io.Writer)) {
	if p.err != nil {
		return
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	rows(tw)
	p.err = tw.Flush()
}
