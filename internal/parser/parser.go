package parser

import (
	"fmt"
	"os"
	"strconv"

	"twine/internal/ast"
	"twine/internal/lexer"
)

// ---------------------------------------------------------------------------
// ParseError
// ---------------------------------------------------------------------------

// ParseError represents a single error found during parsing.
type ParseError struct {
	Message string
	Lexeme  string
	AtEOF   bool
	Line    int
	Column  int
}

func (e ParseError) Error() string {
	if e.AtEOF {
		return fmt.Sprintf("Parse Error at line %d, column %d at end of file: %s", e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("Parse Error at line %d, column %d at '%s': %s", e.Line, e.Column, e.Lexeme, e.Message)
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

// Parser holds the state for a single recursive-descent pass over a token
// stream. Errors are reported on stderr as they occur; recovery discards
// tokens to the next statement boundary and parsing resumes.
type Parser struct {
	tokens []lexer.Token
	pos    int
	errors []ParseError
}

// Parse is the main entry point. It takes a token slice (as produced by
// lexer.Lex) and returns an AST program plus any parse errors collected.
// The returned program is nil only when the token stream is unusable.
func Parse(tokens []lexer.Token) (*ast.Program, []ParseError) {
	if len(tokens) == 0 {
		return nil, []ParseError{{Message: "empty token stream", Line: 1, Column: 1}}
	}
	p := &Parser{tokens: tokens}
	prog := p.parseProgram()
	return prog, p.errors
}

// ---------------------------------------------------------------------------
// Token helpers
// ---------------------------------------------------------------------------

// peek returns the current token without consuming it.
func (p *Parser) peek() lexer.Token {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return p.tokens[len(p.tokens)-1] // END_OF_FILE token
}

// advance consumes and returns the current token.
func (p *Parser) advance() lexer.Token {
	tok := p.peek()
	if tok.Type != lexer.END_OF_FILE {
		p.pos++
	}
	return tok
}

// previous returns the most recently consumed token.
func (p *Parser) previous() lexer.Token {
	if p.pos > 0 {
		return p.tokens[p.pos-1]
	}
	return p.tokens[0]
}

// check returns true if the current token has the given type.
func (p *Parser) check(typ string) bool {
	return p.peek().Type == typ
}

// match consumes the current token if it matches any of the given types.
func (p *Parser) match(types ...string) bool {
	for _, t := range types {
		if p.check(t) {
			p.advance()
			return true
		}
	}
	return false
}

// isAtEnd reports whether the parser has reached END_OF_FILE.
func (p *Parser) isAtEnd() bool {
	return p.check(lexer.END_OF_FILE)
}

// consume advances past a token of the given type or records an error and
// returns false, leaving the cursor in place for synchronisation.
func (p *Parser) consume(typ string, message string) (lexer.Token, bool) {
	if p.check(typ) {
		return p.advance(), true
	}
	p.addError(p.peek(), message)
	return p.peek(), false
}

// addError records and reports a ParseError at the given token's location.
func (p *Parser) addError(tok lexer.Token, msg string) {
	e := ParseError{
		Message: msg,
		Lexeme:  tok.Value,
		AtEOF:   tok.Type == lexer.END_OF_FILE,
		Line:    tok.Line,
		Column:  tok.Column,
	}
	p.errors = append(p.errors, e)
	fmt.Fprintln(os.Stderr, e.Error())
}

// synchronize discards tokens until a likely statement boundary: just past
// a semicolon, or at a token that begins a statement.
func (p *Parser) synchronize() {
	p.advance()
	for !p.isAtEnd() {
		if p.previous().Type == lexer.SEMICOLON {
			return
		}
		switch p.peek().Type {
		case lexer.FUNCTION, lexer.VAR, lexer.LET, lexer.CONST,
			lexer.FOR, lexer.IF, lexer.WHILE, lexer.RETURN:
			return
		}
		p.advance()
	}
}

// position converts a token into an ast.Position.
func position(tok lexer.Token) ast.Position {
	return ast.Position{Line: tok.Line, Column: tok.Column}
}

// =========================================================================
// Statements
// =========================================================================

func (p *Parser) parseProgram() *ast.Program {
	prog := &ast.Program{Pos: position(p.peek())}

	for !p.isAtEnd() {
		startPos := p.pos
		stmt, ok := p.parseStatement()
		if ok && stmt != nil {
			prog.Statements = append(prog.Statements, stmt)
		} else {
			p.synchronize()
		}
		// Safety: if no tokens were consumed, skip one to avoid an infinite loop.
		if p.pos == startPos {
			p.advance()
		}
	}

	return prog
}

// parseStatement dispatches on the statement-head token. The boolean result
// is false when a parse error occurred and the caller should synchronise.
func (p *Parser) parseStatement() (ast.Stmt, bool) {
	switch p.peek().Type {
	case lexer.FUNCTION:
		return p.parseFunctionDeclaration()
	case lexer.VAR, lexer.LET, lexer.CONST:
		return p.parseVariableDeclaration()
	case lexer.IF:
		return p.parseIfStatement()
	case lexer.WHILE:
		return p.parseWhileStatement()
	case lexer.FOR:
		return p.parseForStatement()
	case lexer.RETURN:
		return p.parseReturnStatement()
	case lexer.LEFT_BRACE:
		return p.parseBlock()
	default:
		return p.parseExpressionStatement()
	}
}

func (p *Parser) parseVariableDeclaration() (ast.Stmt, bool) {
	kind := p.advance() // LET, VAR, or CONST
	name, ok := p.consume(lexer.IDENTIFIER, "Expected variable name")
	if !ok {
		return nil, false
	}

	var initializer ast.Expr
	if p.match(lexer.ASSIGN) {
		initializer, ok = p.parseExpression()
		if !ok {
			return nil, false
		}
	}

	if _, ok := p.consume(lexer.SEMICOLON, "Expected ';' after variable declaration"); !ok {
		return nil, false
	}
	return &ast.VariableDeclaration{
		Kind:        kind.Value,
		Name:        name.Value,
		Initializer: initializer,
		Pos:         position(kind),
	}, true
}

func (p *Parser) parseFunctionDeclaration() (ast.Stmt, bool) {
	tok := p.advance() // FUNCTION
	name, ok := p.consume(lexer.IDENTIFIER, "Expected function name")
	if !ok {
		return nil, false
	}
	if _, ok := p.consume(lexer.LEFT_PAREN, "Expected '(' after function name"); !ok {
		return nil, false
	}

	var params []string
	if !p.check(lexer.RIGHT_PAREN) {
		for {
			param, ok := p.consume(lexer.IDENTIFIER, "Expected parameter name")
			if !ok {
				return nil, false
			}
			params = append(params, param.Value)
			if !p.match(lexer.COMMA) {
				break
			}
		}
	}
	if _, ok := p.consume(lexer.RIGHT_PAREN, "Expected ')' after parameters"); !ok {
		return nil, false
	}

	if !p.check(lexer.LEFT_BRACE) {
		p.addError(p.peek(), "Expected '{' before function body")
		return nil, false
	}
	body, ok := p.parseBlock()
	if !ok {
		return nil, false
	}

	return &ast.FunctionDeclaration{
		Name:       name.Value,
		Parameters: params,
		Body:       body.(*ast.Block),
		Pos:        position(tok),
	}, true
}

func (p *Parser) parseIfStatement() (ast.Stmt, bool) {
	tok := p.advance() // IF
	if _, ok := p.consume(lexer.LEFT_PAREN, "Expected '(' after 'if'"); !ok {
		return nil, false
	}
	cond, ok := p.parseExpression()
	if !ok {
		return nil, false
	}
	if _, ok := p.consume(lexer.RIGHT_PAREN, "Expected ')' after if condition"); !ok {
		return nil, false
	}

	then, ok := p.parseStatement()
	if !ok {
		return nil, false
	}

	var elseStmt ast.Stmt
	if p.match(lexer.ELSE) {
		elseStmt, ok = p.parseStatement()
		if !ok {
			return nil, false
		}
	}

	return &ast.If{Condition: cond, Then: then, Else: elseStmt, Pos: position(tok)}, true
}

func (p *Parser) parseWhileStatement() (ast.Stmt, bool) {
	tok := p.advance() // WHILE
	if _, ok := p.consume(lexer.LEFT_PAREN, "Expected '(' after 'while'"); !ok {
		return nil, false
	}
	cond, ok := p.parseExpression()
	if !ok {
		return nil, false
	}
	if _, ok := p.consume(lexer.RIGHT_PAREN, "Expected ')' after while condition"); !ok {
		return nil, false
	}
	body, ok := p.parseStatement()
	if !ok {
		return nil, false
	}
	return &ast.While{Condition: cond, Body: body, Pos: position(tok)}, true
}

func (p *Parser) parseForStatement() (ast.Stmt, bool) {
	tok := p.advance() // FOR
	if _, ok := p.consume(lexer.LEFT_PAREN, "Expected '(' after 'for'"); !ok {
		return nil, false
	}

	// Init clause: empty, a declaration, or an expression statement.
	var init ast.Stmt
	if p.match(lexer.SEMICOLON) {
		// no initializer
	} else if p.check(lexer.VAR) || p.check(lexer.LET) || p.check(lexer.CONST) {
		var ok bool
		init, ok = p.parseVariableDeclaration()
		if !ok {
			return nil, false
		}
	} else {
		expr, ok := p.parseExpression()
		if !ok {
			return nil, false
		}
		if _, ok := p.consume(lexer.SEMICOLON, "Expected ';' after for loop initializer"); !ok {
			return nil, false
		}
		init = &ast.ExpressionStatement{Expression: expr, Pos: expr.GetPos()}
	}

	// Condition: optional.
	var cond ast.Expr
	if !p.check(lexer.SEMICOLON) {
		var ok bool
		cond, ok = p.parseExpression()
		if !ok {
			return nil, false
		}
	}
	if _, ok := p.consume(lexer.SEMICOLON, "Expected ';' after for loop condition"); !ok {
		return nil, false
	}

	// Update: optional, no trailing semicolon before ')'.
	var update ast.Expr
	if !p.check(lexer.RIGHT_PAREN) {
		var ok bool
		update, ok = p.parseExpression()
		if !ok {
			return nil, false
		}
	}
	if _, ok := p.consume(lexer.RIGHT_PAREN, "Expected ')' after for clauses"); !ok {
		return nil, false
	}

	body, ok := p.parseStatement()
	if !ok {
		return nil, false
	}

	return &ast.For{
		Init:      init,
		Condition: cond,
		Update:    update,
		Body:      body,
		Pos:       position(tok),
	}, true
}

func (p *Parser) parseReturnStatement() (ast.Stmt, bool) {
	tok := p.advance() // RETURN
	var value ast.Expr
	if !p.check(lexer.SEMICOLON) {
		var ok bool
		value, ok = p.parseExpression()
		if !ok {
			return nil, false
		}
	}
	if _, ok := p.consume(lexer.SEMICOLON, "Expected ';' after return value"); !ok {
		return nil, false
	}
	return &ast.Return{Value: value, Pos: position(tok)}, true
}

func (p *Parser) parseBlock() (ast.Stmt, bool) {
	tok := p.advance() // LEFT_BRACE
	block := &ast.Block{Pos: position(tok)}

	for !p.check(lexer.RIGHT_BRACE) && !p.isAtEnd() {
		startPos := p.pos
		stmt, ok := p.parseStatement()
		if ok && stmt != nil {
			block.Statements = append(block.Statements, stmt)
		} else {
			p.synchronize()
		}
		if p.pos == startPos {
			p.advance()
		}
	}

	if _, ok := p.consume(lexer.RIGHT_BRACE, "Expected '}' after block"); !ok {
		return nil, false
	}
	return block, true
}

func (p *Parser) parseExpressionStatement() (ast.Stmt, bool) {
	expr, ok := p.parseExpression()
	if !ok {
		return nil, false
	}
	if _, ok := p.consume(lexer.SEMICOLON, "Expected ';' after expression"); !ok {
		return nil, false
	}
	return &ast.ExpressionStatement{Expression: expr, Pos: expr.GetPos()}, true
}

// =========================================================================
// Expressions — precedence ladder, lowest to highest
// =========================================================================

func (p *Parser) parseExpression() (ast.Expr, bool) {
	return p.parseAssignment()
}

// parseAssignment handles the right-associative '=' level. The target must
// be an identifier or an index expression; anything else is an error.
func (p *Parser) parseAssignment() (ast.Expr, bool) {
	expr, ok := p.parseLogicalOr()
	if !ok {
		return nil, false
	}

	if p.match(lexer.ASSIGN) {
		eq := p.previous()
		value, ok := p.parseAssignment()
		if !ok {
			return nil, false
		}
		switch target := expr.(type) {
		case *ast.Identifier:
			return &ast.Assignment{Name: target.Name, Value: value, Pos: target.Pos}, true
		case *ast.Index:
			return &ast.IndexAssignment{
				Array: target.Array,
				Index: target.Index,
				Value: value,
				Pos:   target.Pos,
			}, true
		}
		p.addError(eq, "Invalid assignment target")
		return nil, false
	}

	return expr, true
}

func (p *Parser) parseLogicalOr() (ast.Expr, bool) {
	return p.parseBinaryLevel(p.parseLogicalAnd, lexer.LOGICAL_OR)
}

func (p *Parser) parseLogicalAnd() (ast.Expr, bool) {
	return p.parseBinaryLevel(p.parseEquality, lexer.LOGICAL_AND)
}

func (p *Parser) parseEquality() (ast.Expr, bool) {
	return p.parseBinaryLevel(p.parseComparison, lexer.EQUAL, lexer.NOT_EQUAL)
}

func (p *Parser) parseComparison() (ast.Expr, bool) {
	return p.parseBinaryLevel(p.parseAddition,
		lexer.LESS_THAN, lexer.LESS_EQUAL, lexer.GREATER_THAN, lexer.GREATER_EQUAL)
}

func (p *Parser) parseAddition() (ast.Expr, bool) {
	return p.parseBinaryLevel(p.parseMultiplication, lexer.PLUS, lexer.MINUS)
}

func (p *Parser) parseMultiplication() (ast.Expr, bool) {
	return p.parseBinaryLevel(p.parseUnary, lexer.MULTIPLY, lexer.DIVIDE, lexer.MODULO)
}

// parseBinaryLevel parses a left-associative run of binary operators drawn
// from the given token types, with operands parsed by next.
func (p *Parser) parseBinaryLevel(next func() (ast.Expr, bool), types ...string) (ast.Expr, bool) {
	expr, ok := next()
	if !ok {
		return nil, false
	}
	for p.match(types...) {
		op := p.previous()
		right, ok := next()
		if !ok {
			return nil, false
		}
		expr = &ast.Binary{Left: expr, Op: op.Value, Right: right, Pos: position(op)}
	}
	return expr, true
}

func (p *Parser) parseUnary() (ast.Expr, bool) {
	if p.match(lexer.LOGICAL_NOT, lexer.MINUS) {
		op := p.previous()
		operand, ok := p.parseUnary()
		if !ok {
			return nil, false
		}
		return &ast.Unary{Op: op.Value, Operand: operand, Pos: position(op)}, true
	}
	return p.parseCall()
}

// parseCall handles call and index postfixes. The callee of a call must be
// a plain identifier.
func (p *Parser) parseCall() (ast.Expr, bool) {
	expr, ok := p.parsePrimary()
	if !ok {
		return nil, false
	}

	for {
		if p.match(lexer.LEFT_PAREN) {
			paren := p.previous()
			id, isIdent := expr.(*ast.Identifier)
			if !isIdent {
				p.addError(paren, "Can only call functions")
				return nil, false
			}

			var args []ast.Expr
			if !p.check(lexer.RIGHT_PAREN) {
				for {
					arg, ok := p.parseExpression()
					if !ok {
						return nil, false
					}
					args = append(args, arg)
					if !p.match(lexer.COMMA) {
						break
					}
				}
			}
			if _, ok := p.consume(lexer.RIGHT_PAREN, "Expected ')' after arguments"); !ok {
				return nil, false
			}
			expr = &ast.Call{Name: id.Name, Args: args, Pos: id.Pos}
		} else if p.match(lexer.LEFT_BRACKET) {
			bracket := p.previous()
			index, ok := p.parseExpression()
			if !ok {
				return nil, false
			}
			if _, ok := p.consume(lexer.RIGHT_BRACKET, "Expected ']' after index expression"); !ok {
				return nil, false
			}
			expr = &ast.Index{Array: expr, Index: index, Pos: position(bracket)}
		} else {
			break
		}
	}

	return expr, true
}

func (p *Parser) parsePrimary() (ast.Expr, bool) {
	tok := p.peek()

	switch tok.Type {
	case lexer.TRUE:
		p.advance()
		return &ast.BooleanLiteral{Value: true, Pos: position(tok)}, true
	case lexer.FALSE:
		p.advance()
		return &ast.BooleanLiteral{Value: false, Pos: position(tok)}, true
	case lexer.NULL_TOKEN:
		p.advance()
		return &ast.NullLiteral{Pos: position(tok)}, true
	case lexer.NUMBER:
		p.advance()
		value, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			p.addError(tok, "Invalid number literal")
			return nil, false
		}
		return &ast.NumberLiteral{Value: value, Pos: position(tok)}, true
	case lexer.STRING:
		p.advance()
		return &ast.StringLiteral{Value: tok.Value, Pos: position(tok)}, true
	case lexer.IDENTIFIER:
		p.advance()
		return &ast.Identifier{Name: tok.Value, Pos: position(tok)}, true
	case lexer.LEFT_PAREN:
		p.advance()
		expr, ok := p.parseExpression()
		if !ok {
			return nil, false
		}
		if _, ok := p.consume(lexer.RIGHT_PAREN, "Expected ')' after expression"); !ok {
			return nil, false
		}
		return expr, true
	case lexer.LEFT_BRACKET:
		return p.parseArrayLiteral()
	}

	p.addError(tok, "Expected expression")
	return nil, false
}

// parseArrayLiteral parses [expr, expr, ...] or [] (empty array).
func (p *Parser) parseArrayLiteral() (ast.Expr, bool) {
	tok := p.advance() // '['
	var elems []ast.Expr
	if !p.check(lexer.RIGHT_BRACKET) {
		for {
			elem, ok := p.parseExpression()
			if !ok {
				return nil, false
			}
			elems = append(elems, elem)
			if !p.match(lexer.COMMA) {
				break
			}
		}
	}
	if _, ok := p.consume(lexer.RIGHT_BRACKET, "Expected ']' after array elements"); !ok {
		return nil, false
	}
	return &ast.ArrayLiteral{Elements: elems, Pos: position(tok)}, true
}
