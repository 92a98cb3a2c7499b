package discogs

// Release is the release detail the detector consumes.
type Release struct {
	ID        int
	Title     string
	Year      int
	Country   string
	Label     string
	Formats   []Format
	Tracklist []ReleaseTrack
	Videos    []Video
	MasterID  int

	// MasterSingle is set when another release under the same master
	// grouping carries a single format.
	MasterSingle bool
}

// Format is a physical or digital format entry on a release.
type Format struct {
	Name         string
	Qty          string
	Descriptions []string
}

// ReleaseTrack is one tracklist entry. Duration keeps the service's
// "M:SS" form; use Seconds for comparisons.
type ReleaseTrack struct {
	Title    string
	Duration string
}

// Video is an embedded video on a release page.
type Video struct {
	Title       string
	Description string
	URI         string
}

// Context carries the album-level recording context. Live albums relax
// the live-flavor ban on video matching.
type Context struct {
	IsLive      bool
	IsUnplugged bool
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	ID       int      `json:"id"`
	Title    string   `json:"title"`
	Year     string   `json:"year"`
	Country  string   `json:"country"`
	Format   []string `json:"format"`
	MasterID int      `json:"master_id"`
}

type releaseResponse struct {
	ID        int             `json:"id"`
	Title     string          `json:"title"`
	Year      int             `json:"year"`
	Country   string          `json:"country"`
	Labels    []labelResult   `json:"labels"`
	Formats   []formatResult  `json:"formats"`
	Tracklist []trackResult   `json:"tracklist"`
	Videos    []videoResult   `json:"videos"`
	MasterID  int             `json:"master_id"`
}

type labelResult struct {
	Name string `json:"name"`
}

type formatResult struct {
	Name         string   `json:"name"`
	Qty          string   `json:"qty"`
	Descriptions []string `json:"descriptions"`
}

type trackResult struct {
	Title    string `json:"title"`
	Duration string `json:"duration"`
}

type videoResult struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URI         string `json:"uri"`
}
