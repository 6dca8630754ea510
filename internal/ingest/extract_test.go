package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/govchat/internal/common"
)

const canadaPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <title>Income tax - Canada.ca</title>
  <meta name="description" content="Personal and business income tax.">
  <meta name="dcterms.modified" content="2024-11-05">
  <script>var tracking = true;</script>
</head>
<body>
  <header><nav class="gcweb-menu">Menu Taxes Benefits</nav></header>
  <ol id="wb-bc"><li>Canada.ca</li><li>Taxes</li></ol>
  <main>
    <h1>Income   tax</h1>
    <p>File your   return, get your refund,
       and check benefits.</p>
    <p>Deadlines apply to most people.</p>
    <p>Most individuals have to file their income tax and benefit return by April 30. Self-employed
       individuals and their spouses or common-law partners have until June 15, but any balance owing
       is still due by April 30.</p>
    <ul><li>Personal income tax</li><li>Business tax</li></ul>
    <span class="wb-inv">Hidden from sight</span>
    <div class="pagedetails">Date modified: 2024-11-05</div>
  </main>
  <footer>Terms and conditions</footer>
</body>
</html>`

func TestExtract_CanadaPage(t *testing.T) {
	ex, err := NewExtractor("en").Extract("https://www.canada.ca/en/services/taxes/income-tax.html", []byte(canadaPage))
	require.NoError(t, err)

	assert.Equal(t, "Income tax", ex.Title)
	assert.Equal(t, "en", ex.Language)
	assert.Equal(t, "Personal and business income tax.", ex.Metadata["description"])
	assert.Equal(t, "2024-11-05", ex.Metadata["modified"])

	assert.Contains(t, ex.Text, "File your return, get your refund,\nand check benefits.")
	assert.Contains(t, ex.Text, "Personal income tax")
	for _, noise := range []string{"tracking", "Menu", "Terms and conditions", "Hidden from sight", "Date modified", "Canada.ca\nTaxes"} {
		assert.NotContains(t, ex.Text, noise)
	}
	assert.NotContains(t, ex.Text, "\n\n\n")
	assert.NotContains(t, ex.Text, "  ")
}

func TestExtract_TitleFallbackAndLanguage(t *testing.T) {
	html := `<html lang="fr-CA"><head><title>Impôts - Canada.ca</title></head>
<body><div id="wb-main"><p>` + strings.Repeat("Vous devez produire votre déclaration de revenus. ", 10) + `</p></div></body></html>`

	ex, err := NewExtractor("en").Extract("https://example.test/page", []byte(html))
	require.NoError(t, err)
	assert.Equal(t, "Impôts", ex.Title)
	assert.Equal(t, "fr", ex.Language, "html lang wins when the URL has no language segment")

	ex, err = NewExtractor("en").Extract("https://www.canada.ca/en/x.html", []byte(html))
	require.NoError(t, err)
	assert.Equal(t, "en", ex.Language, "URL segment comes first")
}

func TestExtract_EmptyPageIsPermanent(t *testing.T) {
	_, err := NewExtractor("en").Extract("https://example.test", []byte(`<html><body><script>track()</script></body></html>`))
	assert.True(t, common.IsKind(err, common.KindPermanentFetch))
}

func TestNormalizeWhitespace(t *testing.T) {
	in := "  a \t b  \r\n\r\n\r\n\n c  d \n"
	assert.Equal(t, "a b\n\nc d", NormalizeWhitespace(in))
}
