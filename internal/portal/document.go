package portal

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/handiism/nfse-downloader/internal/cache"
	"github.com/handiism/nfse-downloader/internal/dedup"
	"github.com/handiism/nfse-downloader/internal/model"
)

// ErrUnknownLayout is returned for XML that is neither a national nor an
// ABRASF NFSe.
var ErrUnknownLayout = errors.New("unknown NFSe layout")

// nationalNFSe maps the national (Sefin) layout.
type nationalNFSe struct {
	XMLName xml.Name `xml:"NFSe"`
	Inf     struct {
		ID     string `xml:"Id,attr"`
		Number string `xml:"nNFSe"`
		DPS    struct {
			Inf struct {
				IssuedAt    string `xml:"dhEmi"`
				Competencia string `xml:"dCompet"`
				Provider    party  `xml:"prest"`
				Taker       party  `xml:"toma"`
			} `xml:"infDPS"`
		} `xml:"DPS"`
	} `xml:"infNFSe"`
}

type party struct {
	CNPJ string `xml:"CNPJ"`
	CPF  string `xml:"CPF"`
}

func (p party) id() string {
	if p.CNPJ != "" {
		return p.CNPJ
	}
	return p.CPF
}

// abrasfNFSe maps the municipal ABRASF layout.
type abrasfNFSe struct {
	XMLName xml.Name `xml:"CompNfse"`
	Inf     struct {
		ID          string `xml:"Id,attr"`
		Number      string `xml:"Numero"`
		IssuedAt    string `xml:"DataEmissao"`
		Competencia string `xml:"Competencia"`
		Provider    struct {
			CNPJ string `xml:"IdentificacaoPrestador>CpfCnpj>Cnpj"`
			CPF  string `xml:"IdentificacaoPrestador>CpfCnpj>Cpf"`
		} `xml:"PrestadorServico"`
		Taker struct {
			CNPJ string `xml:"IdentificacaoTomador>CpfCnpj>Cnpj"`
			CPF  string `xml:"IdentificacaoTomador>CpfCnpj>Cpf"`
		} `xml:"TomadorServico"`
	} `xml:"Nfse>InfNfse"`
}

// ParseDocument extracts the invoice metadata from an NFSe XML body.
//
// The competência comes from dCompet/Competencia and falls back to the
// issue date when absent.
func ParseDocument(raw []byte) (model.Document, error) {
	root, err := rootElement(raw)
	if err != nil {
		return model.Document{}, err
	}

	var doc model.Document
	var issued, comp string

	switch root {
	case "NFSe":
		var n nationalNFSe
		if err := xml.Unmarshal(raw, &n); err != nil {
			return model.Document{}, fmt.Errorf("decode NFSe: %w", err)
		}
		doc = model.Document{
			AccessKey:  strings.TrimSpace(n.Inf.ID),
			Number:     strings.TrimSpace(n.Inf.Number),
			ProviderID: model.NormalizeTaxpayerID(n.Inf.DPS.Inf.Provider.id()),
			TakerID:    model.NormalizeTaxpayerID(n.Inf.DPS.Inf.Taker.id()),
		}
		issued, comp = n.Inf.DPS.Inf.IssuedAt, n.Inf.DPS.Inf.Competencia

	case "CompNfse":
		var a abrasfNFSe
		if err := xml.Unmarshal(raw, &a); err != nil {
			return model.Document{}, fmt.Errorf("decode CompNfse: %w", err)
		}
		provider := party{CNPJ: a.Inf.Provider.CNPJ, CPF: a.Inf.Provider.CPF}
		taker := party{CNPJ: a.Inf.Taker.CNPJ, CPF: a.Inf.Taker.CPF}
		doc = model.Document{
			AccessKey:  strings.TrimSpace(a.Inf.ID),
			Number:     strings.TrimSpace(a.Inf.Number),
			ProviderID: model.NormalizeTaxpayerID(provider.id()),
			TakerID:    model.NormalizeTaxpayerID(taker.id()),
		}
		issued, comp = a.Inf.IssuedAt, a.Inf.Competencia

	default:
		return model.Document{}, fmt.Errorf("%w: root element %q", ErrUnknownLayout, root)
	}

	if t, ok := parseTimestamp(issued); ok {
		doc.IssuedAt = t
	}

	if c, err := model.ParseCompetencia(comp); err == nil && c.Valid() {
		doc.Competencia = c
	} else if !doc.IssuedAt.IsZero() {
		doc.Competencia = model.CompetenciaOf(doc.IssuedAt)
	} else {
		return model.Document{}, fmt.Errorf("document %s: no competência or issue date", doc.Number)
	}

	return doc, nil
}

// rootElement returns the local name of the first element in raw.
func rootElement(raw []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("read root element: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DocumentParser parses documents through the parsed-artifact namespace so
// the same bytes are decoded once per process.
type DocumentParser struct {
	parsed *cache.Store[model.Document]
}

// NewDocumentParser creates a DocumentParser. parsed may be nil.
func NewDocumentParser(parsed *cache.Store[model.Document]) *DocumentParser {
	return &DocumentParser{parsed: parsed}
}

// Parse returns the document for raw, whose fingerprint is fp.
func (p *DocumentParser) Parse(raw []byte, fp string) (model.Document, error) {
	if fp == "" {
		fp = dedup.Fingerprint(raw)
	}
	if p.parsed != nil {
		if doc, ok := p.parsed.Get(fp); ok {
			return doc, nil
		}
	}

	doc, err := ParseDocument(raw)
	if err != nil {
		return model.Document{}, err
	}

	if p.parsed != nil {
		p.parsed.Put(fp, doc)
	}
	return doc, nil
}
