package prompts

// HelpText is printed by the console "help" command.
const HelpText = `Ask questions about the repository in plain language, for example:
  Where is the database connection configured?
  Show me main.go
  Add input validation to the Login handler in auth/login.go

The assistant can search the index, read files, list directories and,
when allowed by configuration, modify files (a backup is taken first).

Commands:
  help              show this help
  clear             forget the conversation so far
  exit, quit, bye   leave the session`

// Banner is printed when an interactive session starts. The format verbs
// are the model name and the repository path.
const Banner = `CodeCraft coding assistant
Model: %s
Repository: %s
Type "help" for commands, "exit" to quit.`
