package subgraph

import (
	"fmt"
	"strings"
)

// maxPageSize is the subgraph's hard cap on `first`.
const maxPageSize = 1000

// EventFilter narrows an orderFilledEvents query. Zero values are
// omitted from the where clause. Addresses are lowercased before they
// reach the query; the subgraph indexes lowercase hex.
type EventFilter struct {
	FromTs  int64  // timestamp_gte
	ToTs    int64  // timestamp_lte
	TokenID string // makerAssetId or takerAssetId
	Maker   string
	Taker   string

	OrderBy        string // default "timestamp"
	OrderDirection string // "asc" or "desc", default "asc"
	First          int    // page size, capped at 1000
	Skip           int
}

func (f EventFilter) normalized() EventFilter {
	if f.OrderBy == "" {
		f.OrderBy = "timestamp"
	}
	if f.OrderDirection == "" {
		f.OrderDirection = "asc"
	}
	if f.First <= 0 || f.First > maxPageSize {
		f.First = maxPageSize
	}
	f.Maker = strings.ToLower(f.Maker)
	f.Taker = strings.ToLower(f.Taker)
	return f
}

// whereClause renders the filter conditions, or "" when unfiltered.
func (f EventFilter) whereClause() string {
	var conds []string
	if f.FromTs > 0 {
		conds = append(conds, fmt.Sprintf("timestamp_gte: %d", f.FromTs))
	}
	if f.ToTs > 0 {
		conds = append(conds, fmt.Sprintf("timestamp_lte: %d", f.ToTs))
	}
	if f.TokenID != "" {
		conds = append(conds, fmt.Sprintf("or: [{makerAssetId: %q}, {takerAssetId: %q}]", f.TokenID, f.TokenID))
	}
	if f.Maker != "" {
		conds = append(conds, fmt.Sprintf("maker: %q", f.Maker))
	}
	if f.Taker != "" {
		conds = append(conds, fmt.Sprintf("taker: %q", f.Taker))
	}
	if len(conds) == 0 {
		return ""
	}
	return "where: {" + strings.Join(conds, ", ") + "}, "
}

// buildOrderFilledQuery composes the GraphQL document for a page of
// order-filled events.
func buildOrderFilledQuery(f EventFilter) string {
	f = f.normalized()
	return fmt.Sprintf(`{
  orderFilledEvents(%sorderBy: %s, orderDirection: %s, first: %d, skip: %d) {
    id
    timestamp
    maker
    taker
    makerAssetId
    takerAssetId
    makerAmountFilled
    takerAmountFilled
  }
}`, f.whereClause(), f.OrderBy, f.OrderDirection, f.First, f.Skip)
}

func buildMarketDatasQuery(first, skip int) string {
	if first <= 0 || first > maxPageSize {
		first = maxPageSize
	}
	return fmt.Sprintf(`{
  marketDatas(first: %d, skip: %d) {
    id
    condition
    outcomeIndex
  }
}`, first, skip)
}

func buildUserBalancesQuery(user string, first, skip int) string {
	if first <= 0 || first > maxPageSize {
		first = maxPageSize
	}
	return fmt.Sprintf(`{
  userBalances(where: {user: %q}, first: %d, skip: %d) {
    id
    user
    asset {
      id
    }
    balance
  }
}`, strings.ToLower(user), first, skip)
}

const metaQuery = `{
  _meta {
    block {
      number
      timestamp
    }
    hasIndexingErrors
  }
}`
