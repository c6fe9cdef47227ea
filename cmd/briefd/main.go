// Command briefd serves the content brief API.
//
// Configuration comes from an optional YAML file (--config), BRIEF_* variables
// and the deployment variables SERPER_API_KEY, ANTHROPIC_API_KEY, CORS_ORIGINS
// and PORT. A .env file in the working directory is loaded first when present.
//
//	briefd serve --config config.yaml
package main

import (
	"github.com/JakeFAU/seo-brief/cmd"
)

func main() {
	cmd.Execute()
}
