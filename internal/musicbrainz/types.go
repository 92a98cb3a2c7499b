package musicbrainz

// ReleaseGroup is the release-group information the detector consumes.
type ReleaseGroup struct {
	ID               string
	Title            string
	PrimaryType      string // Album, Single, EP, ...
	SecondaryTypes   []string
	FirstReleaseDate string
	Artist           string
	Score            int
}

type searchResponse struct {
	ReleaseGroups []releaseGroupResult `json:"release-groups"`
}

type releaseGroupResult struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	PrimaryType      string         `json:"primary-type"`
	SecondaryTypes   []string       `json:"secondary-types"`
	FirstReleaseDate string         `json:"first-release-date"`
	Score            int            `json:"score"`
	ArtistCredit     []artistCredit `json:"artist-credit"`
}

type artistCredit struct {
	Name       string `json:"name"`
	JoinPhrase string `json:"joinphrase"`
	Artist     struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"artist"`
}

func extractArtist(credits []artistCredit) string {
	if len(credits) == 0 {
		return ""
	}
	var out string
	for _, c := range credits {
		name := c.Name
		if name == "" {
			name = c.Artist.Name
		}
		out += name + c.JoinPhrase
	}
	return out
}
