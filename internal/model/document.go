package model

import "time"

// Document holds the metadata parsed from an NFSe XML body.
type Document struct {
	// AccessKey is the infNFSe Id attribute, unique per invoice nationally.
	AccessKey string

	// Number is the invoice number assigned by the issuing municipality.
	Number string

	// IssuedAt is the emission timestamp (dhEmi / DataEmissao).
	IssuedAt time.Time

	// Competencia is the period declared in the DPS (dCompet / Competencia).
	Competencia Competencia

	// ProviderID is the CNPJ/CPF of the service provider.
	ProviderID string

	// TakerID is the CNPJ/CPF of the service taker.
	TakerID string
}

// FileName returns the default filename for a document without one.
func (d Document) FileName() string {
	switch {
	case d.AccessKey != "":
		return d.AccessKey + ".xml"
	case d.Number != "":
		return "NFSe_" + d.Number + ".xml"
	default:
		return ""
	}
}
