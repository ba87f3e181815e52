package forge

import (
	"fmt"
	"net/url"
)

// profileURL builds the user profile endpoint
func profileURL(baseURL, username string) string {
	return fmt.Sprintf("%s/users/%s", baseURL, url.PathEscape(username))
}

// followersURL builds the paginated followers listing endpoint
func followersURL(baseURL, username string, page, perPage int) string {
	return fmt.Sprintf("%s/users/%s/followers?page=%d&per_page=%d",
		baseURL, url.PathEscape(username), page, perPage)
}

// sponsorsURL builds the paginated sponsors listing endpoint
func sponsorsURL(baseURL, username string, page, perPage int) string {
	return fmt.Sprintf("%s/users/%s/sponsors?page=%d&per_page=%d",
		baseURL, url.PathEscape(username), page, perPage)
}

// sponsoringURL builds the paginated sponsoring listing endpoint
func sponsoringURL(baseURL, username string, page, perPage int) string {
	return fmt.Sprintf("%s/users/%s/sponsoring?page=%d&per_page=%d",
		baseURL, url.PathEscape(username), page, perPage)
}

// activityURL builds the yearly contribution activity endpoint
func activityURL(baseURL, username string, year int) string {
	return fmt.Sprintf("%s/users/%s/activity?year=%d",
		baseURL, url.PathEscape(username), year)
}
