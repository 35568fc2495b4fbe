// Package model defines the core data structures used throughout
// the nfse-downloader application.
//
// # Artifact
//
// Artifact is one downloaded NFSe XML document together with the identifiers
// needed to file it:
//
//	comp := model.NewCompetencia(2025, time.July)
//	a := model.NewArtifact(raw, "52399222000122", comp, "NFS3304557...", "NFSe_123.xml")
//	fmt.Println(a.RelativePath()) // 2025/072025/52399222000122/NFSe_123.xml
//
// # Placement
//
// PlacementPath is a pure function of competência, taxpayer identifier and
// filename. The resulting layout is consumed by downstream tooling and must not
// change:
//
//	{year}/{month}{year}/{taxpayerId}/{filename}
//
// PathConfig roots the relative path under the configured downloads directory:
//
//	cfg := &model.PathConfig{DownloadsPath: "/srv/nfse"}
//	fmt.Println(cfg.Resolve(a)) // /srv/nfse/2025/072025/52399222000122/NFSe_123.xml
//
// # Document
//
// Document holds the metadata parsed from the NFSe XML body (number, issue
// date, competência, provider and taker CNPJ).
package model
