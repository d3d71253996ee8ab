package db

// SchemaSQL defines the thread and message tables.
const SchemaSQL = `
    -- ==========================================================================
    -- THREAD TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS thread SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS title ON thread TYPE string DEFAULT "New chat";
    DEFINE FIELD IF NOT EXISTS message_count ON thread TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS created_at ON thread TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON thread TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS thread_created ON thread FIELDS created_at;

    -- ==========================================================================
    -- MESSAGE TABLE
    -- ==========================================================================
    -- seq is the position within the thread, taken from thread.message_count
    -- inside the append transaction.
    DEFINE TABLE IF NOT EXISTS message SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS thread ON message TYPE record<thread>;
    DEFINE FIELD IF NOT EXISTS seq ON message TYPE int;
    DEFINE FIELD IF NOT EXISTS role ON message TYPE string ASSERT $value IN ["user", "assistant"];
    DEFINE FIELD IF NOT EXISTS content ON message TYPE string;
    DEFINE FIELD IF NOT EXISTS created_at ON message TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS message_thread_seq ON message FIELDS thread, seq UNIQUE;
`
