package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rickgao/auditstream/internal/model"
)

// GetAuditLogs fetches one page of audit events.
func (c *Client) GetAuditLogs(ctx context.Context, q AuditLogsQuery) (*model.AuditPage, error) {
	if q.Page < 0 {
		return nil, fmt.Errorf("get audit logs: negative page %d", q.Page)
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(q.Page))
	if q.Size > 0 {
		query.Set("size", strconv.Itoa(q.Size))
	}
	if q.Sort != "" {
		query.Set("sort", q.Sort)
	}

	var resp model.AuditPage
	if err := c.get(ctx, c.auditPath, query, &resp); err != nil {
		return nil, fmt.Errorf("get audit logs: %w", err)
	}

	return &resp, nil
}

// FetchAuditPage fetches page with the given size.
func (c *Client) FetchAuditPage(ctx context.Context, page, size int) (model.AuditPage, error) {
	resp, err := c.GetAuditLogs(ctx, AuditLogsQuery{Page: page, Size: size})
	if err != nil {
		return model.AuditPage{}, err
	}
	return *resp, nil
}
