// Package portal implements fetch.Fetcher against the NFSe portal's HTML
// listing pages.
//
// The package handles three concerns:
//
//  1. Building and parsing listing pages (rows, XML links, page count)
//  2. Downloading each XML document of a page
//  3. Parsing the XML into a model.Document to learn its competência
//
// # Listing Pages
//
// A listing page is requested as
//
//	{base}/notas?cnpj=52399222000122&dataInicio=2025-07-01&dataFim=2025-08-01&pagina=1
//
// and is expected to contain a table of invoices:
//
//	<table class="nfse-list">
//	  <tbody>
//	    <tr data-chave="NFS3304...">
//	      <td class="numero">123</td>
//	      <td><a class="xml-download" href="/notas/123/xml">XML</a></td>
//	    </tr>
//	  </tbody>
//	</table>
//	<nav class="pagination" data-total-pages="2">...</nav>
//
// A page that shows a login form instead means the session expired, which
// is reported as a fatal fetch.ErrUnauthenticated.
//
// # Document Layouts
//
// Both the national layout (NFSe/infNFSe with dCompet, dhEmi) and the
// municipal ABRASF layout (CompNfse/Nfse/InfNfse with Competencia,
// DataEmissao) are understood. Parsed documents are cached in the
// parsed-artifact namespace keyed by content fingerprint.
package portal
