package subsonic

// Artist is a library artist as exposed by the music server.
type Artist struct {
	ID         string
	Name       string
	AlbumCount int
}

// Album is a library album.
type Album struct {
	ID       string
	ArtistID string
	Artist   string
	Name     string
	Year     int
	Genre    string
	CoverArt string
	Songs    int
}

// Track is a library song. ID is the opaque identifier ratings are pushed
// back to.
type Track struct {
	ID       string
	AlbumID  string
	Title    string
	Artist   string
	Album    string
	Duration int // seconds
	Path     string
	Year     int
	Genre    string
}

// envelope is the nested "subsonic-response" JSON wrapper every endpoint
// returns.
type envelope struct {
	Response struct {
		Status string `json:"status"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`

		Artists *struct {
			Index []struct {
				Name    string       `json:"name"`
				Artists []jsonArtist `json:"artist"`
			} `json:"index"`
		} `json:"artists"`

		Artist *struct {
			jsonArtist
			Albums []jsonAlbum `json:"album"`
		} `json:"artist"`

		Album *struct {
			jsonAlbum
			Songs []jsonSong `json:"song"`
		} `json:"album"`

		MusicFolders *struct {
			Folders []struct {
				ID   int    `json:"id"`
				Name string `json:"name"`
			} `json:"musicFolder"`
		} `json:"musicFolders"`
	} `json:"subsonic-response"`
}

type jsonArtist struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	AlbumCount int    `json:"albumCount"`
}

type jsonAlbum struct {
	ID        string `json:"id"`
	ArtistID  string `json:"artistId"`
	Artist    string `json:"artist"`
	Name      string `json:"name"`
	Year      int    `json:"year"`
	Genre     string `json:"genre"`
	CoverArt  string `json:"coverArt"`
	SongCount int    `json:"songCount"`
}

type jsonSong struct {
	ID       string `json:"id"`
	AlbumID  string `json:"albumId"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	Duration int    `json:"duration"`
	Path     string `json:"path"`
	Year     int    `json:"year"`
	Genre    string `json:"genre"`
}
