package templates

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllTemplatesRender(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	data := Data{
		UserID:        "U123",
		ChannelID:     "C456",
		GSoCChannelID: "C789",
		SiteName:      "OWASP Nest",
		WebsiteURL:    "https://owasp.org",
		ProjectsCount: 150,
		IssuesCount:   4200,
		FirstYear:     2012,
		LastYear:      2025,
		Policies:      []Policy{{Name: "Code of Conduct", URL: "https://owasp.org/www-policy/operational/code-of-conduct"}},
		Commands:      []string{"projects", "chapters"},
	}

	for _, name := range []string{ContributeEphemeral, ContributeDM, GSoCWelcome, GSoC, TeamJoin, Donate, Policies, OWASPHelp, Home} {
		t.Run(name, func(t *testing.T) {
			sections, err := r.Sections(name, data)
			require.NoError(t, err)
			require.NotEmpty(t, sections)
			for _, s := range sections {
				assert.NotEqual(t, "", strings.TrimSpace(s))
				assert.NotContains(t, s, "<no value>")
			}
		})
	}
}

func TestContributeDMCounts(t *testing.T) {
	r := MustNew()

	text, err := r.Render(ContributeDM, Data{UserID: "U1", ChannelID: "C1", SiteName: "OWASP Nest", WebsiteURL: "https://owasp.org", ProjectsCount: 150, IssuesCount: 4200})
	require.NoError(t, err)

	assert.Contains(t, text, "150 active OWASP projects")
	assert.Contains(t, text, "4200 recently opened issues")
	assert.Contains(t, text, "<@U1>")
}

func TestSectionsSplitOnBreaks(t *testing.T) {
	r := MustNew()

	sections, err := r.Sections(OWASPHelp, Data{Commands: []string{"projects"}, Unknown: "dance"})
	require.NoError(t, err)
	require.Len(t, sections, 3)
	assert.Equal(t, "`dance` is not a command I know.", sections[0])
	assert.Contains(t, sections[1], "`/owasp projects`")

	sections, err = r.Sections(OWASPHelp, Data{Commands: []string{"projects"}})
	require.NoError(t, err)
	assert.Len(t, sections, 2)
}

func TestGSoCYear(t *testing.T) {
	r := MustNew()

	general, err := r.Render(GSoC, Data{WebsiteURL: "https://owasp.org", FirstYear: 2012, LastYear: 2025})
	require.NoError(t, err)
	assert.Contains(t, general, "*OWASP and Google Summer of Code*")
	assert.Contains(t, general, "*#gsoc*")

	year, err := r.Render(GSoC, Data{WebsiteURL: "https://owasp.org", Year: 2024, GSoCChannelID: "C9", FirstYear: 2012, LastYear: 2025})
	require.NoError(t, err)
	assert.Contains(t, year, "gsoc2024")
	assert.Contains(t, year, "<#C9>")
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, err := MustNew().Render("nope", Data{})
	assert.Error(t, err)
}
