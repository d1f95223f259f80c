/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package reviewreconciler

import (
	"fmt"
	"sort"
	"strings"

	"chainguard.dev/vibepr/agents/promptbuilder"
	"chainguard.dev/vibepr/agents/schema"
)

const maxImportantFiles = 10

// importantFile is one entry of the file analysis response.
type importantFile struct {
	Path   string `json:"path" jsonschema:"required,description=Repository-relative file path taken from the tree"`
	Reason string `json:"reason" jsonschema:"description=Why the file matters for understanding or testing the app"`
}

type fileAnalysis struct {
	Files []importantFile `json:"files" jsonschema:"required,description=At most 10 files, most important first"`
}

func (a *fileAnalysis) Validate() []string {
	var problems []string
	for i, f := range a.Files {
		if strings.TrimSpace(f.Path) == "" {
			problems = append(problems, fmt.Sprintf("files[%d].path is required", i))
		}
	}
	return problems
}

// TestPlan is the structured test generation response.
type TestPlan struct {
	CodebaseSummary   string     `json:"codebase_summary" jsonschema:"required,description=What the application does"`
	PRChanges         string     `json:"pr_changes" jsonschema:"required,description=What the pull request changes from a user's point of view"`
	Tests             []TestCase `json:"tests" jsonschema:"required"`
	SetupInstructions string     `json:"setup_instructions,omitempty" jsonschema:"description=Step by step environment setup starting from a blank Ubuntu machine"`
}

// Validate checks the plan and normalizes priorities to lower case.
func (p *TestPlan) Validate() []string {
	var problems []string
	if strings.TrimSpace(p.CodebaseSummary) == "" {
		problems = append(problems, "codebase_summary is required")
	}
	if strings.TrimSpace(p.PRChanges) == "" {
		problems = append(problems, "pr_changes is required")
	}
	if len(p.Tests) == 0 {
		problems = append(problems, "tests must not be empty")
	}
	for i := range p.Tests {
		p.Tests[i].Priority = Priority(strings.ToLower(strings.TrimSpace(string(p.Tests[i].Priority))))
		problems = append(problems, p.Tests[i].validate(i)...)
	}
	return problems
}

var (
	fileAnalysisSchema = schema.MustDescribe[fileAnalysis]()
	testPlanSchema     = schema.MustDescribe[TestPlan]()
)

var analyzeFilesSystem = promptbuilder.MustNewPrompt(`You are an expert code analyst focused on identifying the most important files in a repository for understanding its core functionality and testing needs.

Analyze the file tree and identify the files that are essential for:
1. Understanding the core business logic
2. Testing key functionality
3. Understanding system architecture
4. Configuration and setup

For each file you select, explain why it is important. Prefer code files over configuration or documentation unless they are crucial.

Exclude generated files, caches, build artifacts, dependency directories, virtual environments and tests (unless they explain the testing strategy).

Return at most 10 files as a single JSON object matching this schema:
{{schema}}`)

var analyzeFilesUser = promptbuilder.MustNewPrompt(`Please analyze this repository's file tree and identify the most important files for understanding and testing the codebase:

{{file_tree}}`)

const summarizeFileSystem = `You are an expert code analyst. Provide a concise 2 sentence summary of this file's purpose and key functionality.`

var summarizeFileUser = promptbuilder.MustNewPrompt(`Please summarize this file's purpose and key functionality:

{{path}}
{{content}}`)

var generateTestsSystem = promptbuilder.MustNewPrompt(`You are an expert QA engineer specializing in end-to-end UI testing. Your role is to:

1. Analyze UI changes and user workflows in pull requests
2. Understand the user-facing functionality of the application
3. Generate UI test scenarios that cover complete user journeys, common interactions and navigation, visual layout, how errors are shown to users, and whether user data is saved correctly
4. Generate step-by-step instructions for setting up the test environment:
   - Assume the system is a blank slate, so install CLI tools like npm and pnpm (sudo npm install -g pnpm)
   - Install dependencies (cd into the repo and run pnpm install)
   - Start the dev server or script (pnpm dev)
   - If it is a web app, start the browser and navigate to localhost

Do not generate tests for setup steps, backend-only changes, cross-compatibility or accessibility.

For each test case give it a clear descriptive name, explain which part of the user experience it tests, list what needs to be set up first (like being logged in), write clear steps anyone can follow (e.g. "Click the blue 'Submit' button"), describe exactly what the user should see happen, and mark how important the test is (low, medium or high).

Respond with a single JSON object matching this schema:
{{schema}}`)

var generateTestsUser = promptbuilder.MustNewPrompt(`Generate test cases for this pull request, focusing on the user-facing changes and their impact on the application.

{{setup}}

Pull request:
{{title}}
{{description}}

Repository overview:
{{readme}}

Important files:
{{codebase_context}}

File tree:
{{file_tree}}

Changes to test:
{{changes}}`)

const (
	setupNoteWithConfig = "The repository has a vibePR.yaml file that handles the setup steps below. Do not generate test cases for any of these setup steps, and leave setup_instructions empty.\n\n"
	setupNoteNoConfig   = "There is no vibePR.yaml file in the repository, so you need to generate setup_instructions for the test environment."
)

var autoSetupSystem = promptbuilder.MustNewPrompt(`You are an expert at setting up and configuring development environments.

{{codebase_summary}}

<SYSTEM_CAPABILITIES>
* You have access to an Ubuntu virtual machine with internet connectivity
* Start Chromium (the default browser) from the application menu or with bash
* Install dependencies using bash with sudo privileges
* You can log in with user credentials if provided for testing purposes
* Opening applications may take some time, be patient and wait for them to load
</SYSTEM_CAPABILITIES>

<ENVIRONMENT_SETUP>
1. First check if .env exists in the repository
2. If .env does not exist, create it from the provided variables in KEY=value format. The variables are already exported, but some apps need a .env file
3. Verify the environment is properly configured
</ENVIRONMENT_SETUP>

<TASK>
Set up a testing environment by:
1. Reading and following the provided setup instructions
2. Creating the .env file if needed
3. Installing all necessary dependencies
4. Starting required services (databases, dev servers, etc.)
5. Opening Chromium and waiting for it to load
6. Navigating to the appropriate URL
7. Verifying the environment is ready for testing; the browser and application can take some time to load
8. If it is successful, finish with setup_success true
9. If it is unsuccessful, finish with setup_success false and setup_error describing what went wrong
</TASK>`)

var autoSetupUser = promptbuilder.MustNewPrompt(`Here are the setup instructions:

{{instructions}}

Variables that have been set in the environment:
{{variables}}

Please follow these instructions to set up the test environment in {{repo_path}}. The repository is already cloned there. The variables are already available in the environment, but you may need to create a .env file if the application requires it.`)

var instructionSetupSystem = promptbuilder.MustNewPrompt(`You are an expert at setting up and configuring development environments.

{{codebase_summary}}

<SYSTEM_CAPABILITIES>
* You have access to an Ubuntu virtual machine with internet connectivity
* Start Chromium (the default browser) from the application menu or with bash
* Install dependencies using bash with sudo privileges
* You can log in with user credentials if provided for testing purposes
* Opening applications may take some time, be patient and wait for them to load
</SYSTEM_CAPABILITIES>

<TASK>
Execute a single setup instruction:
1. Read and understand the provided instruction
2. Execute the instruction using the available tools
3. Verify the instruction was completed. Take multiple turns to wait if needed; a slow process is not a failure
4. If successful, finish with setup_success true
5. If unsuccessful, finish with setup_success false and setup_error describing what went wrong
Assume the environment is already set up from previous steps and you are only executing this instruction.
</TASK>`)

var instructionSetupUser = promptbuilder.MustNewPrompt(`Execute this setup instruction in {{repo_path}}:

{{instruction}}`)

var executeTestSystem = promptbuilder.MustNewPrompt(`You are an expert at executing UI tests.

{{codebase_summary}}

<SYSTEM_CAPABILITIES>
* You have access to an Ubuntu virtual machine with internet connectivity
* You can log in with user credentials if provided for testing purposes
* You are already on the application page and authenticated
</SYSTEM_CAPABILITIES>

<TASK>
Execute a UI test by:
1. Reading and understanding the test requirements
2. Following each step exactly as written
3. Taking screenshots at key moments
4. Verifying the expected results
5. If it is successful, finish with test_success true
6. If it is unsuccessful, finish with test_success false and test_error describing the failing step
Assume the environment is already set up. Report notes for anything noteworthy even when the test passes.
Start from a fresh navigation to the application so earlier tests do not affect this one.
</TASK>

<IMPORTANT>
Execute the test thoroughly and repeat it where that exercises the behavior. For example, when testing autoscrolling send enough messages to overflow the view, and when testing adding and deleting items do so several times in different orders.
</IMPORTANT>`)

var executeTestUser = promptbuilder.MustNewPrompt(`Please execute the following test:

{{test}}

Please follow these steps exactly, take screenshots at key moments, and verify the results carefully.`)

func buildAnalyzeFiles(tree string) (system, user string, err error) {
	p, err := analyzeFilesSystem.BindText("schema", "schema", fileAnalysisSchema)
	if err != nil {
		return "", "", err
	}
	if system, err = p.Build(); err != nil {
		return "", "", err
	}
	if p, err = analyzeFilesUser.BindText("file_tree", "file_tree", tree); err != nil {
		return "", "", err
	}
	user, err = p.Build()
	return system, user, err
}

func buildSummarizeFile(path, content string) (string, error) {
	p, err := summarizeFileUser.BindText("path", "path", path)
	if err != nil {
		return "", err
	}
	if p, err = p.BindText("content", "file_content", content); err != nil {
		return "", err
	}
	return p.Build()
}

// testsRequest carries everything the test generation prompt needs.
type testsRequest struct {
	Title           string
	Description     string
	Readme          string
	CodebaseContext string
	FileTree        string
	Changes         any
	SetupConfig     *SetupConfig
}

func (r testsRequest) Bind(p *promptbuilder.Prompt) (*promptbuilder.Prompt, error) {
	setup := setupNoteNoConfig
	if r.SetupConfig != nil {
		setup = setupNoteWithConfig + r.SetupConfig.Summary()
	}
	var err error
	for _, b := range []struct{ name, tag, value string }{
		{"setup", "setup", setup},
		{"title", "title", r.Title},
		{"description", "description", r.Description},
		{"readme", "readme", r.Readme},
		{"codebase_context", "codebase_context", r.CodebaseContext},
		{"file_tree", "file_tree", r.FileTree},
	} {
		if p, err = p.BindText(b.name, b.tag, b.value); err != nil {
			return nil, err
		}
	}
	return p.BindJSON("changes", r.Changes)
}

func buildGenerateTests(req testsRequest) (system, user string, err error) {
	p, err := generateTestsSystem.BindText("schema", "schema", testPlanSchema)
	if err != nil {
		return "", "", err
	}
	if system, err = p.Build(); err != nil {
		return "", "", err
	}
	user, err = promptbuilder.Render(generateTestsUser, req)
	return system, user, err
}

func bindSummary(p *promptbuilder.Prompt, summary string) (string, error) {
	p, err := p.BindText("codebase_summary", "CODEBASE_SUMMARY", summary)
	if err != nil {
		return "", err
	}
	return p.Build()
}

func buildAutoSetup(r *Review, vars map[string]string) (system, user string, err error) {
	if system, err = bindSummary(autoSetupSystem, r.Generate.CodebaseSummary); err != nil {
		return "", "", err
	}
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, k := range names {
		lines = append(lines, fmt.Sprintf("- %s: %s", k, vars[k]))
	}
	if len(lines) == 0 {
		lines = append(lines, "(none)")
	}
	instructions := r.Generate.AutoSetupInstructions
	if strings.TrimSpace(instructions) == "" {
		instructions = "No setup instructions were provided. Inspect the repository to work out how to install and start it."
	}

	p, err := autoSetupUser.BindText("instructions", "setup_instructions", instructions)
	if err != nil {
		return "", "", err
	}
	if p, err = p.BindText("variables", "variables", strings.Join(lines, "\n")); err != nil {
		return "", "", err
	}
	if p, err = p.BindText("repo_path", "repo_path", r.RepoPath()); err != nil {
		return "", "", err
	}
	user, err = p.Build()
	return system, user, err
}

func buildInstruction(r *Review, instruction string) (system, user string, err error) {
	if system, err = bindSummary(instructionSetupSystem, r.Generate.CodebaseSummary); err != nil {
		return "", "", err
	}
	p, err := instructionSetupUser.BindText("repo_path", "repo_path", r.RepoPath())
	if err != nil {
		return "", "", err
	}
	if p, err = p.BindText("instruction", "instruction", instruction); err != nil {
		return "", "", err
	}
	user, err = p.Build()
	return system, user, err
}

func buildExecuteTest(r *Review, tc TestCase) (system, user string, err error) {
	if system, err = bindSummary(executeTestSystem, r.Generate.CodebaseSummary); err != nil {
		return "", "", err
	}
	p, err := executeTestUser.BindYAML("test", tc)
	if err != nil {
		return "", "", err
	}
	user, err = p.Build()
	return system, user, err
}
