// Package brief defines the domain model shared by the content brief service:
// jobs and their lifecycle, the collaborator interfaces the worker depends on,
// and the prompt used for competitor analysis.
package brief
