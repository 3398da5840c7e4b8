package mcp

import (
	"context"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverInstructions = `dutylog records duty protocols: one pilot, one vehicle, one shift.

Core concepts:
- Protocol: pilot + vehicle + date + start time, optional end time and evidence link.
- Status: OPEN while the shift runs; FINALIZED, WARNING, NOT_PARTICIPATING or INACTIVE once closed.
- Duration: seconds between start and end, computed by the server. Only FINALIZED protocols count.
  An end earlier than the start means the shift crossed midnight.

Default workflow:
1) Browse: list_protocols (filter by status, pilot, date range) or protocol_summary.
2) Inspect: get_protocol, then protocol_history for the audit trail.
3) Write: create_protocol (status defaults to FINALIZED and needs an end time; use OPEN for a running shift).
4) Close: finalize_protocol with an end time. Closed protocols cannot be reopened.
5) Follow up: stale_protocols lists OPEN shifts that were never closed.

Docs:
- dutylog://docs/lifecycle (statuses, transitions and duration rules)
`

type docResource struct {
	URI         string
	Name        string
	Title       string
	Description string
	Content     string
}

var docResources = []docResource{
	{
		URI:         "dutylog://docs/lifecycle",
		Name:        "protocol_lifecycle",
		Title:       "Protocol lifecycle",
		Description: "Statuses, allowed transitions, and how durations are derived.",
		Content: `# Protocol lifecycle

## Statuses

| Status | Closed | Counts toward totals | End time |
|---|---|---|---|
| OPEN | no | no | never stored |
| FINALIZED | yes | yes | required |
| WARNING | yes | no | optional, duration 0 |
| NOT_PARTICIPATING | yes | no | optional, duration 0 |
| INACTIVE | yes | no | optional, duration 0 |

Portuguese names are accepted as input: ABERTO, FINALIZADO, ADVERTENCIA,
NAO PARTICIPANDO, INATIVO.

## Transitions

    OPEN ──finalize──▶ FINALIZED | WARNING | NOT_PARTICIPATING | INACTIVE

- finalize only applies to OPEN protocols. Calling it on a closed one fails with
  a conflict and changes nothing.
- A closed protocol never returns to OPEN.
- Updates may edit pilot, vehicle, date, times and link. They never change status.

## Duration

duration = end - start, in whole seconds, on the protocol date.
When end is earlier than start the shift crossed midnight and end is read on
the next day: 23:30 → 00:15 is 2700 seconds.

A FINALIZED protocol must have a positive duration. Start equal to end is rejected.

## Audit

Every create, update, finalize and delete appends an entry with the actor and
a JSON snapshot of the protocol. Use protocol_history to read it.
`,
	},
}

func registerDocResources(server *sdkmcp.Server) {
	for _, doc := range docResources {
		server.AddResource(&sdkmcp.Resource{
			URI:         doc.URI,
			Name:        doc.Name,
			Title:       doc.Title,
			Description: doc.Description,
			MIMEType:    "text/markdown",
			Size:        int64(len(doc.Content)),
		}, func(_ context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
			uri := doc.URI
			if req != nil && req.Params != nil && req.Params.URI != "" {
				uri = req.Params.URI
			}
			return &sdkmcp.ReadResourceResult{
				Contents: []*sdkmcp.ResourceContents{{
					URI:      uri,
					MIMEType: "text/markdown",
					Text:     doc.Content,
				}},
			}, nil
		})
	}
}
