package analyzer

import (
	"github.com/blastrain/vitess-sqlparser/sqlparser"
)

// collector accumulates TableAccess entries in first-appearance order
// while walking a statement tree, merging repeated references to the
// same base table and skipping references to registered CTE names (those
// are expanded separately by Analyze, which walks each CTE body in its
// own pass before the main statement).
type collector struct {
	qtype     QueryType
	order     []string
	byName    map[string]*TableAccess
	cteNames  map[string]bool
	aliasToTb map[string]string // table alias -> base table name, current statement scope
}

func newCollector() *collector {
	return &collector{
		byName:    make(map[string]*TableAccess),
		cteNames:  make(map[string]bool),
		aliasToTb: make(map[string]string),
	}
}

func (c *collector) registerCTEName(name string) { c.cteNames[name] = true }

func (c *collector) setType(t QueryType) {
	if c.qtype == "" {
		c.qtype = t
	}
}

func (c *collector) result() QueryAnalysis {
	tables := make([]TableAccess, 0, len(c.order))
	for _, name := range c.order {
		tables = append(tables, *c.byName[name])
	}
	return QueryAnalysis{Type: c.qtype, AccessedTables: tables}
}

func (c *collector) touchTable(name string) *TableAccess {
	if c.cteNames[name] {
		return nil
	}
	ta, ok := c.byName[name]
	if !ok {
		ta = &TableAccess{Name: name}
		c.byName[name] = ta
		c.order = append(c.order, name)
	}
	return ta
}

func (c *collector) addColumn(table, column string) {
	ta := c.touchTable(table)
	if ta == nil {
		return
	}
	for _, existing := range ta.Columns {
		if existing == column {
			return
		}
	}
	ta.Columns = append(ta.Columns, column)
}

func (c *collector) addFilter(table string, f FilterPred) {
	ta := c.touchTable(table)
	if ta == nil {
		return
	}
	ta.Filters = append(ta.Filters, f)
}

// walkTableExprs enumerates the FROM/JOIN chain in left-to-right order,
// registering each base table and recursing into subqueries so their
// own accessed tables enumerate too (ahead of columns/filters referencing
// them, matching the ordering rule: outermost FROM first, subqueries in
// the order they're written).
func (c *collector) walkTableExprs(exprs sqlparser.TableExprs) error {
	for _, te := range exprs {
		if err := c.walkTableExpr(te); err != nil {
			return err
		}
	}
	return nil
}

func (c *collector) walkTableExpr(te sqlparser.TableExpr) error {
	switch t := te.(type) {
	case *sqlparser.AliasedTableExpr:
		switch simple := t.Expr.(type) {
		case sqlparser.TableName:
			name := simple.Name.String()
			c.touchTable(name)
			if !t.As.IsEmpty() {
				c.aliasToTb[t.As.String()] = name
			} else {
				c.aliasToTb[name] = name
			}
		case *sqlparser.Subquery:
			if err := c.walkSelectLike(simple.Select); err != nil {
				return err
			}
		}
		return nil
	case *sqlparser.ParenTableExpr:
		return c.walkTableExprs(t.Exprs)
	case *sqlparser.JoinTableExpr:
		if err := c.walkTableExpr(t.LeftExpr); err != nil {
			return err
		}
		if err := c.walkTableExpr(t.RightExpr); err != nil {
			return err
		}
		if t.Condition.On != nil {
			c.walkExprForColumnsAndFilters(t.Condition.On)
		}
		return nil
	default:
		return nil
	}
}

func (c *collector) walkSelect(s *sqlparser.Select) error {
	if err := c.walkTableExprs(s.From); err != nil {
		return err
	}
	for _, se := range s.SelectExprs {
		switch e := se.(type) {
		case *sqlparser.AliasedExpr:
			c.walkExprForColumnsAndFilters(e.Expr)
		case *sqlparser.StarExpr:
			// SELECT * / tbl.* projects every column; analyzer cannot
			// enumerate them without schema access, so it records the
			// table touch (already done via From) and leaves Columns
			// empty to mean "all columns".
		}
	}
	if s.Where != nil {
		c.walkExprForColumnsAndFilters(s.Where.Expr)
	}
	if s.Having != nil {
		c.walkExprForColumnsAndFilters(s.Having.Expr)
	}
	for _, gb := range s.GroupBy {
		c.walkExprForColumnsAndFilters(gb)
	}
	for _, ob := range s.OrderBy {
		c.walkExprForColumnsAndFilters(ob.Expr)
	}
	return nil
}

func (c *collector) walkInsert(s *sqlparser.Insert) error {
	table := s.Table.Name.String()
	c.touchTable(table)
	for _, col := range s.Columns {
		c.addColumn(table, col.String())
	}
	if sel, ok := s.Rows.(sqlparser.SelectStatement); ok {
		return c.walkSelectLike(sel)
	}
	return nil
}

func (c *collector) walkUpdate(s *sqlparser.Update) error {
	if err := c.walkTableExprs(s.TableExprs); err != nil {
		return err
	}
	for _, ue := range s.Exprs {
		table := ue.Name.Qualifier.Name.String()
		if table == "" && len(c.order) > 0 {
			table = c.order[0]
		}
		c.addColumn(table, ue.Name.Name.String())
		c.walkExprForColumnsAndFilters(ue.Expr)
	}
	if s.Where != nil {
		c.walkExprForColumnsAndFilters(s.Where.Expr)
	}
	return nil
}

func (c *collector) walkDelete(s *sqlparser.Delete) error {
	if err := c.walkTableExprs(s.TableExprs); err != nil {
		return err
	}
	if s.Where != nil {
		c.walkExprForColumnsAndFilters(s.Where.Expr)
	}
	return nil
}

// walkExprForColumnsAndFilters uses sqlparser.Walk to generically visit
// every node in an expression tree, recording ColName references as
// column touches and lifting simple "column <op> literal-or-param"
// ComparisonExprs into FilterPred entries. Subqueries encountered inside
// the expression (e.g. `IN (SELECT ...)`, `EXISTS (...)`) are recursed
// into so their own tables/columns are captured too.
func (c *collector) walkExprForColumnsAndFilters(expr sqlparser.Expr) {
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch n := node.(type) {
		case *sqlparser.ColName:
			table := n.Qualifier.Name.String()
			if table == "" && len(c.order) > 0 {
				table = c.order[0]
			}
			if resolved, ok := c.aliasToTb[table]; ok {
				table = resolved
			}
			c.addColumn(table, n.Name.String())
		case *sqlparser.ComparisonExpr:
			col, colOK := n.Left.(*sqlparser.ColName)
			_, rightIsCol := n.Right.(*sqlparser.ColName)
			if colOK && !rightIsCol {
				table := col.Qualifier.Name.String()
				if table == "" && len(c.order) > 0 {
					table = c.order[0]
				}
				if resolved, ok := c.aliasToTb[table]; ok {
					table = resolved
				}
				c.addFilter(table, FilterPred{
					Column:   col.Name.String(),
					Operator: n.Operator,
					Value:    literalOrParamMarker(n.Right),
				})
			}
		case *sqlparser.Subquery:
			_ = c.walkSelectLike(n.Select)
			return false, nil
		}
		return true, nil
	}, expr)
}

// literalOrParamMarker returns a decoded literal for *sqlparser.SQLVal
// string/numeric values, or the placeholder marker "?" for bind variables
// -- the analyzer only needs to know a value came from a bound parameter,
// not its runtime value; callers match bound filters back to
// sqlfrag.RawSql.Params by position.
func literalOrParamMarker(e sqlparser.Expr) any {
	switch v := e.(type) {
	case *sqlparser.SQLVal:
		if v.Type == sqlparser.ValArg {
			return "?"
		}
		return string(v.Val)
	case sqlparser.ValTuple:
		return "?"
	default:
		return "?"
	}
}
