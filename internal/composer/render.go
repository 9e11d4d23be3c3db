package composer

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// Render serializes the context into the XML-like envelope consumed by
// predictors: the fundamental layer first, then zero or one role block.
func (c *Context) Render() string {
	var b strings.Builder
	b.WriteString("<context>\n")
	c.renderFundamental(&b)
	c.renderRole(&b)
	b.WriteString("</context>")
	return b.String()
}

func (c *Context) renderFundamental(b *strings.Builder) {
	f := c.Fundamental
	b.WriteString("  <fundamental>\n")
	fmt.Fprintf(b, "    <current_time>%s</current_time>\n", f.CurrentTime.Format(time.RFC3339))
	fmt.Fprintf(b, "    <recursion depth=%q max_depth=%q at_limit=%q/>\n",
		fmt.Sprint(f.Depth), fmt.Sprint(f.MaxDepth), fmt.Sprint(f.AtLimit))
	if len(f.Tools) > 0 {
		b.WriteString("    <tools>\n")
		for _, tool := range f.Tools {
			fmt.Fprintf(b, "      <tool name=%q>%s</tool>\n", tool.Name, escape(tool.Description))
		}
		b.WriteString("    </tools>\n")
	}
	if f.FileSystem != "" {
		fmt.Fprintf(b, "    <file_system>%s</file_system>\n", escape(f.FileSystem))
	}
	b.WriteString("  </fundamental>\n")
}

func (c *Context) renderRole(b *strings.Builder) {
	hasRoleBlock := c.ParentResult != nil || len(c.SiblingResults) > 0 ||
		len(c.Dependencies) > 0 || len(c.ChildResults) > 0 || len(c.Artifacts) > 0
	if !hasRoleBlock {
		return
	}
	fmt.Fprintf(b, "  <%s>\n", c.Role)
	if c.ParentResult != nil {
		renderResult(b, "parent", *c.ParentResult)
	}
	renderResults(b, "sibling", c.SiblingResults)
	renderResults(b, "dependency", c.Dependencies)
	renderResults(b, "subtask", c.ChildResults)
	if len(c.Artifacts) > 0 {
		b.WriteString("    <artifacts>\n")
		for _, ref := range c.Artifacts {
			attrs := fmt.Sprintf("id=%q name=%q type=%q created_by=%q",
				ref.ID, ref.Name, ref.Type, ref.CreatedByTask)
			if ref.Relevance != nil {
				attrs += fmt.Sprintf(" relevance=%q", fmt.Sprintf("%.2f", *ref.Relevance))
			}
			fmt.Fprintf(b, "      <artifact %s>%s</artifact>\n", attrs, escape(ref.Description))
		}
		b.WriteString("    </artifacts>\n")
	}
	fmt.Fprintf(b, "  </%s>\n", c.Role)
}

func renderResults(b *strings.Builder, tag string, results []TaskResult) {
	for _, res := range results {
		renderResult(b, tag, res)
	}
}

func renderResult(b *strings.Builder, tag string, res TaskResult) {
	fmt.Fprintf(b, "    <%s task_id=%q goal=%q>", tag, res.TaskID, res.Goal)
	if res.Error != "" {
		fmt.Fprintf(b, "<error>%s</error>", escape(res.Error))
	} else {
		b.WriteString(escape(res.Result))
	}
	fmt.Fprintf(b, "</%s>\n", tag)
}

func escape(text string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(text)); err != nil {
		return text
	}
	return b.String()
}
