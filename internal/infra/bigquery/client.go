// Package bigquery persists batches, transactions, invoices and categories in
// BigQuery tables created by cmd/migrate.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// Client is a BigQuery client bound to one dataset. Repositories share it.
type Client struct {
	bq      *bigquery.Client
	project string
	dataset string
}

// NewClient connects to project and targets dataset.
func NewClient(ctx context.Context, project, dataset string) (*Client, error) {
	bq, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("NewClient: bigquery client: %w", err)
	}
	return &Client{bq: bq, project: project, dataset: dataset}, nil
}

// Close closes the BigQuery client connection.
func (c *Client) Close() error {
	if c.bq != nil {
		return c.bq.Close()
	}
	return nil
}

// table returns the fully qualified, quoted name of a table.
func (c *Client) table(name string) string {
	return "`" + c.project + "." + c.dataset + "." + name + "`"
}

// exec runs a DML statement or script and waits for it. It returns the
// number of rows changed when BigQuery reports one.
func (c *Client) exec(ctx context.Context, op, sql string, params ...bigquery.QueryParameter) (int64, error) {
	q := c.bq.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: running query: %w", op, err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: waiting for job: %w", op, err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("%s: job error: %w", op, err)
	}

	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}

// query reads every row of sql into a slice of T.
func query[T any](ctx context.Context, c *Client, op, sql string, params ...bigquery.QueryParameter) ([]T, error) {
	q := c.bq.Query(sql)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: query read: %w", op, err)
	}

	var rows []T
	for {
		var r T
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: iter next: %w", op, err)
		}
		rows = append(rows, r)
	}
	return rows, nil
}
