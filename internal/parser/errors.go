package parser

import "errors"

// Classificação estruturada dos erros do parser. Os consumidores decidem o
// fallback (ex.: plano simplificado) por errors.Is, nunca inspecionando o
// texto da mensagem.
var (
	// ErrSyntax indica SQL que o parser não conseguiu interpretar.
	ErrSyntax = errors.New("parser: sintaxe inválida")
	// ErrUnsupported indica uma forma de query válida porém fora do dialeto
	// suportado (joins, subqueries, expressões compostas).
	ErrUnsupported = errors.New("parser: forma de query não suportada")
	// ErrUnknownTable indica referência a uma tabela que não pôde ser resolvida.
	ErrUnknownTable = errors.New("parser: tabela desconhecida")
)
