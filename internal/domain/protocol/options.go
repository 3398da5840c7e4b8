package protocol

import "cloud.google.com/go/civil"

// ListOptions provides filtering options for listing protocols.
type ListOptions struct {
	Statuses []Status
	Pilot    string
	From     *civil.Date
	To       *civil.Date
	Limit    int
	Offset   int
}
