package admin

import (
	"github.com/graphql-go/graphql"

	"github.com/mnohosten/repcrec/pkg/txnmgr"
)

// siteType describes one site's up/down status and readable items.
var siteType = graphql.NewObject(graphql.ObjectConfig{
	Name:        "Site",
	Description: "One replica's current up/down status and per-item readability",
	Fields: graphql.Fields{
		"id":         &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		"up":         &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
		"lastUpTime": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		"readableItems": &graphql.Field{
			Type:        graphql.NewList(graphql.Int),
			Description: "Items currently readable at this site",
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				status := p.Source.(txnmgr.SiteStatus)
				var items []int
				for item, ok := range status.Readable {
					if ok {
						items = append(items, item)
					}
				}
				return items, nil
			},
		},
	},
})

// transactionType describes one in-flight transaction's record.
var transactionType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Transaction",
	Fields: graphql.Fields{
		"id":           &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		"startTs":      &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		"isRonly":      &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
		"willAbort":    &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
		"visitedSites": &graphql.Field{Type: graphql.NewList(graphql.Int)},
	},
})

// waitEdgeType describes one edge of the global waits-for graph.
var waitEdgeType = graphql.NewObject(graphql.ObjectConfig{
	Name: "WaitEdge",
	Fields: graphql.Fields{
		"from": &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
		"to":   &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
	},
})

type waitEdge struct {
	From, To int
}

// Schema builds the read-only GraphQL schema over a live manager: sites,
// transactions, and the current waits-for graph, for ad hoc inspection
// during a run or while debugging a captured scenario.
func Schema(manager *txnmgr.Manager) (graphql.Schema, error) {
	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"now": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Int),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return int(manager.Now()), nil
				},
			},
			"sites": &graphql.Field{
				Type: graphql.NewList(siteType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return manager.Sites(), nil
				},
			},
			"site": &graphql.Field{
				Type: siteType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Int)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id := p.Args["id"].(int)
					for _, s := range manager.Sites() {
						if s.ID == id {
							return s, nil
						}
					}
					return nil, nil
				},
			},
			"transactions": &graphql.Field{
				Type: graphql.NewList(transactionType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return manager.Transactions(), nil
				},
			},
			"waitsFor": &graphql.Field{
				Type: graphql.NewList(waitEdgeType),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					graph := manager.WaitsFor()
					var edges []waitEdge
					for from, tos := range graph {
						for _, to := range tos {
							edges = append(edges, waitEdge{From: from, To: to})
						}
					}
					return edges, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: queryType})
}
