// Package azuredevops reads Azure Boards work items and posts comments.
package azuredevops

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/microsoft/azure-devops-go-api/azuredevops/v7"
	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/workitemtracking"

	"github.com/fyrsmithlabs/implflow/internal/config"
	"github.com/fyrsmithlabs/implflow/internal/tracker/markup"
	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

// Field reference names read from a work item.
const (
	FieldTitle       = "System.Title"
	FieldDescription = "System.Description"
	FieldState       = "System.State"
	FieldType        = "System.WorkItemType"
)

// workItemClient is the subset of workitemtracking.Client used here.
type workItemClient interface {
	GetWorkItem(context.Context, workitemtracking.GetWorkItemArgs) (*workitemtracking.WorkItem, error)
	AddComment(context.Context, workitemtracking.AddCommentArgs) (*workitemtracking.Comment, error)
}

// Source is a workflow.WorkItemSource for Azure Boards.
type Source struct {
	client          workItemClient
	project         string
	orgURL          string
	acceptanceField string
	now             func() time.Time
}

var _ workflow.WorkItemSource = (*Source)(nil)

// New connects to the organization with a personal access token.
func New(ctx context.Context, cfg config.AzureDevOpsConfig) (*Source, error) {
	if cfg.OrganizationURL == "" || cfg.Project == "" {
		return nil, fmt.Errorf("azure devops organization_url and project are required")
	}
	if !cfg.Token.IsSet() {
		return nil, fmt.Errorf("azure devops token not set")
	}
	conn := azuredevops.NewPatConnection(cfg.OrganizationURL, cfg.Token.Value())
	client, err := workitemtracking.NewClient(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("creating work item client: %w", err)
	}
	return newSource(client, cfg), nil
}

func newSource(client workItemClient, cfg config.AzureDevOpsConfig) *Source {
	field := cfg.AcceptanceField
	if field == "" {
		field = "Microsoft.VSTS.Common.AcceptanceCriteria"
	}
	return &Source{
		client:          client,
		project:         cfg.Project,
		orgURL:          strings.TrimRight(cfg.OrganizationURL, "/"),
		acceptanceField: field,
		now:             time.Now,
	}
}

func parseID(task workflow.TaskRef) (int, error) {
	id, err := strconv.Atoi(string(task))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid work item id %q", task)
	}
	return id, nil
}

// Fetch reads the work item with its relations.
func (s *Source) Fetch(ctx context.Context, task workflow.TaskRef) (*workflow.WorkItem, error) {
	id, err := parseID(task)
	if err != nil {
		return nil, err
	}
	wi, err := s.client.GetWorkItem(ctx, workitemtracking.GetWorkItemArgs{
		Id:      &id,
		Project: &s.project,
		Expand:  &workitemtracking.WorkItemExpandValues.Relations,
	})
	if err != nil {
		return nil, fmt.Errorf("get work item %d: %w", id, err)
	}
	return s.convert(wi, id), nil
}

func (s *Source) convert(wi *workitemtracking.WorkItem, id int) *workflow.WorkItem {
	var fields map[string]interface{}
	if wi.Fields != nil {
		fields = *wi.Fields
	}
	str := func(key string) string {
		if v, ok := fields[key].(string); ok {
			return v
		}
		return ""
	}

	item := &workflow.WorkItem{
		ID:                 strconv.Itoa(id),
		Type:               str(FieldType),
		Title:              str(FieldTitle),
		State:              str(FieldState),
		Description:        markup.HTMLToText(str(FieldDescription)),
		AcceptanceCriteria: markup.Lines(markup.HTMLToText(str(s.acceptanceField))),
		URL:                fmt.Sprintf("%s/%s/_workitems/edit/%d", s.orgURL, s.project, id),
		FetchedAt:          s.now(),
	}
	if wi.Id != nil {
		item.ID = strconv.Itoa(*wi.Id)
	}
	if wi.Rev != nil {
		item.Revision = *wi.Rev
	}
	if wi.Relations != nil {
		for _, r := range *wi.Relations {
			link := workflow.Link{}
			if r.Rel != nil {
				link.Rel = *r.Rel
			}
			if r.Url != nil {
				link.URL = *r.Url
			}
			if r.Attributes != nil {
				if name, ok := (*r.Attributes)["name"].(string); ok {
					link.Title = name
				}
			}
			item.Links = append(item.Links, link)
		}
	}
	return item
}

// PostComment adds a discussion comment. Azure Boards renders comments as
// HTML, so the markdown is wrapped in a preformatted block.
func (s *Source) PostComment(ctx context.Context, task workflow.TaskRef, markdown string) error {
	id, err := parseID(task)
	if err != nil {
		return err
	}
	text := "<pre>" + html(markdown) + "</pre>"
	_, err = s.client.AddComment(ctx, workitemtracking.AddCommentArgs{
		Request:    &workitemtracking.CommentCreate{Text: &text},
		Project:    &s.project,
		WorkItemId: &id,
	})
	if err != nil {
		return fmt.Errorf("add comment to work item %d: %w", id, err)
	}
	return nil
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func html(s string) string {
	return htmlEscaper.Replace(s)
}
